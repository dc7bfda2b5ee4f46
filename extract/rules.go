package extract

import (
	"strings"

	"github.com/lyangfan/deepmemory/core"
)

// Marker sets for the rule-based score lifts. These are the scoring
// contract: the lifts fire on substring match against the fragment
// content plus the model's reasoning text, and later rules override
// earlier ones. The sets are fixed here rather than configurable so the
// threshold behavior stays reproducible across deployments.
var (
	// identityMarkers: the user disclosing who they are (name,
	// occupation, age). Lifts user fragments to at least 5.
	identityMarkers = []string{
		"我叫", "我是", "我的名字", "名字是", "我今年", "岁了",
		"我的职业", "我做", "工程师", "老师", "医生", "学生",
	}

	// commitmentMarkers: the assistant pledging something durable.
	// Lifts assistant fragments to at least 7.
	commitmentMarkers = []string{
		"我会一直", "我保证", "我承诺", "承诺", "无论如何", "永远",
		"我答应", "随时都在", "I promise", "I will always",
	}

	// adviceMarkers: concrete actionable advice. Lifts assistant
	// fragments to at least 5.
	adviceMarkers = []string{
		"建议", "试试", "可以尝试", "解决方案", "具体步骤", "规划",
	}

	// supportMarkers: emotional support. Lifts assistant fragments to
	// at least 6.
	supportMarkers = []string{
		"理解", "陪伴", "不是一个人", "我一直在", "支持", "相信自己",
	}

	// quotationMarkers: the user quoting or invoking something the
	// assistant said earlier. Lifts user fragments to at least 7.
	quotationMarkers = []string{
		"你说过", "你之前说", "你上次说", "你答应过", "你承诺过",
		"you said earlier", "you promised",
	}
)

// Minimum scores to survive the differentiated threshold filter.
// Assistant commitments are rare and must not be lost; user chit-chat is
// plentiful and must be.
const (
	userThreshold      = 5
	assistantThreshold = 3
)

// applyLifts runs the rule-based post-correction over one fragment.
// Rules run in a fixed order and each only ever raises the score, so the
// later (higher-floor) rules dominate. The text matched is content plus
// the model's reasoning, mirroring how the scoring rubric phrases its
// own justifications.
func applyLifts(frag *core.Fragment, reasoning string) {
	text := frag.Content + " " + reasoning

	switch frag.Speaker {
	case core.SpeakerUser:
		if matchesAny(text, identityMarkers) {
			lift(frag, 5)
		}
		if matchesAny(text, quotationMarkers) {
			lift(frag, 7)
		}
	case core.SpeakerAssistant:
		if matchesAny(text, adviceMarkers) {
			lift(frag, 5)
		}
		if matchesAny(text, supportMarkers) {
			lift(frag, 6)
		}
		if matchesAny(text, commitmentMarkers) {
			lift(frag, 7)
		}
	}
}

// passesThreshold applies the differentiated per-speaker floor.
func passesThreshold(frag *core.Fragment) bool {
	switch frag.Speaker {
	case core.SpeakerAssistant:
		return frag.ImportanceScore >= assistantThreshold
	default:
		return frag.ImportanceScore >= userThreshold
	}
}

func lift(frag *core.Fragment, floor int) {
	if frag.ImportanceScore < floor {
		frag.ImportanceScore = floor
	}
}

func matchesAny(text string, markers []string) bool {
	lower := strings.ToLower(text)
	for _, m := range markers {
		if strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
