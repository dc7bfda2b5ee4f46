// Package retrieval selects the context fragments for a query by
// blending vector similarity with importance and recency, then greedily
// diversifying the final set.
package retrieval

import (
	"context"
	"log"
	"math"
	"sort"
	"time"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/memory"
)

// overFetch is the multiplier applied to TopK when querying the store,
// so re-ranking has headroom to demote and diversify.
const overFetch = 3

// recencyFloor keeps very old fragments retrievable at a small weight
// instead of decaying to zero.
const recencyFloor = 0.01

// Config is the retrieval configuration. It is a value: callers may copy
// the process default and override fields per call.
type Config struct {
	// TopK caps the number of returned fragments.
	TopK int

	// MinImportance drops fragments scored below it before ranking.
	MinImportance int

	// ScoreThreshold, when set, drops candidates whose final hybrid
	// score falls below it.
	ScoreThreshold *float64

	// BoostRecent applies the 7-day / 0.95^d decay factor.
	BoostRecent bool

	// BoostImportance blends importance into the base score
	// (0.7·similarity + 0.3·importance/10).
	BoostImportance bool

	// DiversityPenalty in [0,1] penalizes candidates similar to
	// already-admitted fragments during greedy selection.
	DiversityPenalty float64
}

// DefaultConfig mirrors the process defaults.
func DefaultConfig() Config {
	return Config{
		TopK:             5,
		MinImportance:    5,
		BoostRecent:      true,
		BoostImportance:  true,
		DiversityPenalty: 0.1,
	}
}

// Result is one selected fragment with its hybrid score.
type Result struct {
	Fragment core.Fragment
	Score    float64
}

// Retriever ranks and selects fragments from a store.
type Retriever struct {
	store  memory.Store
	config Config
}

// New creates a retriever with the given process-default config.
func New(store memory.Store, config Config) *Retriever {
	if config.TopK <= 0 {
		config = DefaultConfig()
	}
	return &Retriever{store: store, config: config}
}

// Select returns up to cfg.TopK fragments for the query, hybrid-ranked.
// A nil cfg uses the process default. Never returns more than TopK,
// never below MinImportance, never duplicates.
func (r *Retriever) Select(ctx context.Context, scope core.Scope, query string, cfg *Config) ([]Result, error) {
	config := r.config
	if cfg != nil {
		config = *cfg
	}
	if config.TopK <= 0 {
		return nil, nil
	}

	candidates, err := r.store.Query(ctx, scope, query, config.TopK*overFetch, memory.QueryFilter{
		MinImportance: config.MinImportance,
	})
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	now := time.Now()
	type ranked struct {
		memory.Scored
		final float64
	}
	pool := make([]ranked, 0, len(candidates))
	for _, c := range candidates {
		final := hybridScore(c, config, now)
		if config.ScoreThreshold != nil && final < *config.ScoreThreshold {
			continue
		}
		pool = append(pool, ranked{Scored: c, final: final})
	}
	sort.SliceStable(pool, func(i, j int) bool { return pool[i].final > pool[j].final })

	// Greedy selection: walk candidates by score, penalizing each by its
	// closest already-admitted neighbor; re-sort the tail after every
	// admission so the penalty is always applied against the current set.
	var selected []Result
	var vectors [][]float32
	seen := make(map[string]bool)
	for len(selected) < config.TopK && len(pool) > 0 {
		for i := range pool {
			penalty := 0.0
			if config.DiversityPenalty > 0 && len(vectors) > 0 {
				penalty = config.DiversityPenalty * maxCosine(pool[i].Embedding, vectors)
			}
			pool[i].final = hybridScore(pool[i].Scored, config, now) - penalty
		}
		sort.SliceStable(pool, func(i, j int) bool { return pool[i].final > pool[j].final })

		best := pool[0]
		pool = pool[1:]
		if seen[best.Fragment.ID] {
			continue
		}
		seen[best.Fragment.ID] = true
		selected = append(selected, Result{Fragment: best.Fragment, Score: best.final})
		vectors = append(vectors, best.Embedding)
	}

	log.Printf("[RETRIEVE] %s: %d candidates -> %d selected for query %q",
		scope, len(candidates), len(selected), truncate(query, 40))
	return selected, nil
}

// hybridScore blends similarity, importance and recency per the
// retrieval contract.
func hybridScore(c memory.Scored, config Config, now time.Time) float64 {
	base := c.Similarity
	if config.BoostImportance {
		base = 0.7*c.Similarity + 0.3*float64(c.Fragment.ImportanceScore)/10.0
	}
	if config.BoostRecent {
		base *= recencyFactor(now.Sub(c.Fragment.Timestamp))
	}
	return base
}

// recencyFactor is 1.0 within 7 days, then 0.95 per additional day,
// floored so old memories stay reachable.
func recencyFactor(age time.Duration) float64 {
	days := age.Hours() / 24
	if days <= 7 {
		return 1.0
	}
	f := math.Pow(0.95, days-7)
	if f < recencyFloor {
		return recencyFloor
	}
	return f
}

// maxCosine returns the maximum cosine similarity between vec and any of
// the admitted vectors.
func maxCosine(vec []float32, admitted [][]float32) float64 {
	max := 0.0
	for _, other := range admitted {
		if sim := cosine(vec, other); sim > max {
			max = sim
		}
	}
	return max
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
