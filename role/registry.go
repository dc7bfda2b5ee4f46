// Package role loads the persona registry. Roles participate in prompt
// assembly and scope partitioning only; they never alter the extraction
// or retrieval contracts.
package role

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/lyangfan/deepmemory/core"
)

// DefaultRoleID is used when a chat request carries no role.
const DefaultRoleID = "companion_warm"

// Example is one few-shot exchange injected into the reply prompt.
type Example struct {
	User      string `json:"user" yaml:"user"`
	Assistant string `json:"assistant" yaml:"assistant"`
}

// Profile is a static persona configuration loaded once at startup.
type Profile struct {
	RoleID             string    `json:"role_id" yaml:"role_id"`
	Name               string    `json:"name" yaml:"name"`
	Description        string    `json:"description" yaml:"description"`
	SystemPrompt       string    `json:"system_prompt" yaml:"system_prompt"`
	ResponseStyle      string    `json:"response_style" yaml:"response_style"`
	EmotionalTone      string    `json:"emotional_tone" yaml:"emotional_tone"`
	ForbiddenVocab     []string  `json:"forbidden_vocab" yaml:"forbidden_vocab"`
	HighFrequencyVocab []string  `json:"high_frequency_vocab" yaml:"high_frequency_vocab"`
	FewShotExamples    []Example `json:"few_shot_examples" yaml:"few_shot_examples"`
}

// Registry holds all loaded roles. It is read-only after Load.
type Registry struct {
	roles         map[string]*Profile
	defaultRoleID string
}

// Load reads every .json and .yaml profile in dir. A missing or empty
// directory falls back to the built-in companion persona so the service
// still starts.
func Load(dir string, defaultRoleID string) (*Registry, error) {
	if defaultRoleID == "" {
		defaultRoleID = DefaultRoleID
	}
	r := &Registry{
		roles:         make(map[string]*Profile),
		defaultRoleID: defaultRoleID,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Printf("[ROLE] config dir %s unreadable (%v), using built-in persona", dir, err)
		r.add(builtinCompanion())
		return r, nil
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".json" && ext != ".yaml" && ext != ".yml" {
			continue
		}
		profile, err := loadProfile(filepath.Join(dir, name))
		if err != nil {
			log.Printf("[ROLE] skip %s: %v", name, err)
			continue
		}
		r.add(profile)
		log.Printf("[ROLE] loaded %s (%s)", profile.Name, profile.RoleID)
	}

	if len(r.roles) == 0 {
		log.Printf("[ROLE] no profiles in %s, using built-in persona", dir)
		r.add(builtinCompanion())
	}
	if _, ok := r.roles[r.defaultRoleID]; !ok {
		return nil, fmt.Errorf("%w: default role %q not found in %s", core.ErrConfigInvalid, r.defaultRoleID, dir)
	}
	return r, nil
}

func loadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var profile Profile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &profile)
	default:
		err = yaml.Unmarshal(data, &profile)
	}
	if err != nil {
		return nil, err
	}
	if profile.RoleID == "" {
		return nil, fmt.Errorf("missing role_id")
	}
	if profile.SystemPrompt == "" {
		return nil, fmt.Errorf("missing system_prompt")
	}
	return &profile, nil
}

func (r *Registry) add(profile *Profile) {
	r.roles[profile.RoleID] = profile
}

// Get returns the role or core.ErrInvalidRole.
func (r *Registry) Get(roleID string) (*Profile, error) {
	if roleID == "" {
		roleID = r.defaultRoleID
	}
	profile, ok := r.roles[roleID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", core.ErrInvalidRole, roleID)
	}
	return profile, nil
}

// Default returns the default role.
func (r *Registry) Default() *Profile {
	return r.roles[r.defaultRoleID]
}

// List returns all roles sorted by id.
func (r *Registry) List() []*Profile {
	out := make([]*Profile, 0, len(r.roles))
	for _, p := range r.roles {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out
}

// builtinCompanion is the fallback persona, matching the default role
// shipped in configs/roles.
func builtinCompanion() *Profile {
	return &Profile{
		RoleID:        DefaultRoleID,
		Name:          "温暖陪伴",
		Description:   "温暖、贴心的陪伴型助手",
		SystemPrompt:  "你是一个温暖、贴心的陪伴型 AI 助手。关注用户的情感状态，根据记忆给出个性化的回应，像朋友一样自然交流，不要刻意提及记忆本身。",
		ResponseStyle: "warm",
		EmotionalTone: "gentle",
	}
}
