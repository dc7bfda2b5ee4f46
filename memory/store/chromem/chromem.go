// Package chromem persists memory fragments in chromem-go, a pure Go
// embedded vector database. Each scope maps to its own collection, which
// is what keeps retrieval from ever crossing users, sessions or roles.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/lyangfan/deepmemory/core"
	"github.com/lyangfan/deepmemory/memory"
)

// listProbe is the query text used when a listing needs every document
// back; chromem only exposes similarity queries, so List embeds this
// constant and sorts by insertion time afterwards.
const listProbe = "*"

const metaFile = "embedder.json"

// Config configures the store.
type Config struct {
	// Path is the on-disk location of the vector database. Empty runs
	// in-memory (tests only).
	Path string

	// Embedder is the adapter bound to this store for its lifetime.
	Embedder memory.Embedder
}

// embedderMeta is the sidecar record that pins a partition to one
// embedder variant. A later start with a different provider or dimension
// is refused.
type embedderMeta struct {
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
}

// Store implements memory.Store on chromem-go.
type Store struct {
	db       *chromem.DB
	embedder memory.Embedder

	mu          sync.RWMutex
	collections map[string]*chromem.Collection
}

// New opens (or creates) the store at cfg.Path and binds the embedder.
func New(cfg Config) (*Store, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("%w: store requires an embedder", core.ErrConfigInvalid)
	}

	var db *chromem.DB
	if cfg.Path == "" {
		db = chromem.NewDB()
	} else {
		if err := checkEmbedderMeta(cfg.Path, cfg.Embedder); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("%w: open vector db: %v", core.ErrStoreUnavailable, err)
		}
	}

	return &Store{
		db:          db,
		embedder:    cfg.Embedder,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// checkEmbedderMeta enforces the one-adapter-per-partition rule across
// restarts. First start records the adapter; any later mismatch refuses
// startup rather than silently mixing vector spaces.
func checkEmbedderMeta(path string, emb memory.Embedder) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("%w: create vector db dir: %v", core.ErrConfigInvalid, err)
	}
	metaPath := filepath.Join(path, metaFile)

	data, err := os.ReadFile(metaPath)
	if errors.Is(err, os.ErrNotExist) {
		meta := embedderMeta{Provider: emb.Provider(), Dimensions: emb.Dimensions()}
		out, _ := json.MarshalIndent(meta, "", "  ")
		return os.WriteFile(metaPath, out, 0o644)
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", core.ErrConfigInvalid, metaPath, err)
	}

	var meta embedderMeta
	if err := json.Unmarshal(data, &meta); err != nil {
		return fmt.Errorf("%w: parse %s: %v", core.ErrConfigInvalid, metaPath, err)
	}
	if meta.Provider != emb.Provider() || meta.Dimensions != emb.Dimensions() {
		return fmt.Errorf("%w: store was created with %s/%d, configured %s/%d; delete %s to start fresh",
			core.ErrDimensionMismatch, meta.Provider, meta.Dimensions,
			emb.Provider(), emb.Dimensions(), path)
	}
	return nil
}

// collectionName derives the deterministic collection for a scope.
func collectionName(scope core.Scope) string {
	sanitize := func(s string) string {
		return strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
				return r
			default:
				return '_'
			}
		}, s)
	}
	return fmt.Sprintf("mem_%s_%s_%s", sanitize(scope.UserID), sanitize(scope.SessionID), sanitize(scope.RoleID))
}

func (s *Store) collection(scope core.Scope) (*chromem.Collection, error) {
	name := collectionName(scope)

	s.mu.RLock()
	col, ok := s.collections[name]
	s.mu.RUnlock()
	if ok {
		return col, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}

	col, err := s.db.GetOrCreateCollection(name, map[string]string{
		"user_id":    scope.UserID,
		"session_id": scope.SessionID,
		"role_id":    scope.RoleID,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: collection %s: %v", core.ErrStoreUnavailable, name, err)
	}
	s.collections[name] = col
	return col, nil
}

// Insert embeds and persists a fragment. The ID is derived from
// (scope, speaker, content); re-inserting identical content is a no-op,
// which makes duplicate extraction runs idempotent.
func (s *Store) Insert(ctx context.Context, scope core.Scope, frag core.Fragment) (string, error) {
	if err := scope.Validate(); err != nil {
		return "", err
	}
	if err := frag.Validate(); err != nil {
		return "", err
	}

	col, err := s.collection(scope)
	if err != nil {
		return "", err
	}

	id := core.DeriveFragmentID(scope, frag.Speaker, frag.Content)

	vec, err := s.embedder.Embed(ctx, frag.Content)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, err)
	}
	if len(vec) != s.embedder.Dimensions() {
		return "", fmt.Errorf("%w: embedder returned %d dims, want %d",
			core.ErrDimensionMismatch, len(vec), s.embedder.Dimensions())
	}

	doc := chromem.Document{
		ID:        id,
		Content:   frag.Content,
		Embedding: vec,
		Metadata:  fragmentMetadata(frag),
	}
	// The ID is content-derived, so a re-extracted duplicate lands on
	// the same document: an overwrite keeps the count stable, and an
	// already-exists error means the fragment is stored.
	if err := col.AddDocument(ctx, doc); err != nil {
		if strings.Contains(err.Error(), "exist") {
			log.Printf("[CHROMEM] skip duplicate fragment %s in %s", id, scope)
			return id, nil
		}
		return "", fmt.Errorf("%w: add document: %v", core.ErrStoreUnavailable, err)
	}
	return id, nil
}

// Query returns up to topK fragments by similarity, filtered and sorted
// descending.
func (s *Store) Query(ctx context.Context, scope core.Scope, query string, topK int, filter memory.QueryFilter) ([]memory.Scored, error) {
	if topK <= 0 {
		return nil, nil
	}
	col, err := s.collection(scope)
	if err != nil {
		return nil, err
	}

	// chromem rejects nResults larger than the collection; the process
	// is the sole writer so Count is a safe clamp.
	n := col.Count()
	if n == 0 {
		return nil, nil
	}
	if topK > n {
		topK = n
	}

	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, err)
	}

	results, err := queryEmbeddingClamped(ctx, col, vec, topK, equalityWhere(filter))
	if err != nil {
		return nil, fmt.Errorf("%w: query: %v", core.ErrStoreUnavailable, err)
	}

	scored := make([]memory.Scored, 0, len(results))
	for _, res := range results {
		frag, err := fragmentFromResult(res.ID, res.Content, res.Metadata)
		if err != nil {
			log.Printf("[CHROMEM] skip corrupt document %s: %v", res.ID, err)
			continue
		}
		if filter.MinImportance > 0 && frag.ImportanceScore < filter.MinImportance {
			continue
		}
		scored = append(scored, memory.Scored{
			Fragment:   frag,
			Similarity: float64(res.Similarity),
			Embedding:  res.Embedding,
		})
	}
	return scored, nil
}

// Count returns the number of fragments under the scope.
func (s *Store) Count(ctx context.Context, scope core.Scope) (int, error) {
	col, err := s.collection(scope)
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

// List returns fragments ordered by insertion time descending.
func (s *Store) List(ctx context.Context, scope core.Scope, limit int, filter memory.QueryFilter) ([]core.Fragment, error) {
	col, err := s.collection(scope)
	if err != nil {
		return nil, err
	}
	n := col.Count()
	if n == 0 {
		return nil, nil
	}

	vec, err := s.embedder.Embed(ctx, listProbe)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", core.ErrEmbeddingFailed, err)
	}
	results, err := queryEmbeddingClamped(ctx, col, vec, n, equalityWhere(filter))
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", core.ErrStoreUnavailable, err)
	}

	frags := make([]core.Fragment, 0, len(results))
	inserted := make(map[string]time.Time, len(results))
	for _, res := range results {
		frag, err := fragmentFromResult(res.ID, res.Content, res.Metadata)
		if err != nil {
			log.Printf("[CHROMEM] skip corrupt document %s: %v", res.ID, err)
			continue
		}
		if filter.MinImportance > 0 && frag.ImportanceScore < filter.MinImportance {
			continue
		}
		at, _ := time.Parse(time.RFC3339Nano, res.Metadata["inserted_at"])
		inserted[frag.ID] = at
		frags = append(frags, frag)
	}

	sort.SliceStable(frags, func(i, j int) bool {
		return inserted[frags[i].ID].After(inserted[frags[j].ID])
	})
	if limit > 0 && len(frags) > limit {
		frags = frags[:limit]
	}
	return frags, nil
}

// DeleteScope removes the scope's collection and everything in it.
func (s *Store) DeleteScope(ctx context.Context, scope core.Scope) error {
	name := collectionName(scope)

	s.mu.Lock()
	delete(s.collections, name)
	s.mu.Unlock()

	if err := s.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("%w: delete collection %s: %v", core.ErrStoreUnavailable, name, err)
	}
	return nil
}

// Embedder returns the bound adapter.
func (s *Store) Embedder() memory.Embedder {
	return s.embedder
}

// Close releases resources. chromem persists writes synchronously, so
// there is nothing to flush.
func (s *Store) Close() error {
	return nil
}

// queryEmbeddingClamped works around chromem rejecting nResults larger
// than the (filtered) document count: on that error it retries with a
// smaller n until the query fits or the collection turns out empty.
func queryEmbeddingClamped(ctx context.Context, col *chromem.Collection, vec []float32, n int, where map[string]string) ([]chromem.Result, error) {
	for ; n >= 1; n-- {
		results, err := col.QueryEmbedding(ctx, vec, n, where, nil)
		if err == nil {
			return results, nil
		}
		if !strings.Contains(err.Error(), "nResults") {
			return nil, err
		}
	}
	return nil, nil
}

// equalityWhere pushes the equality filters into chromem's metadata
// where-clause. MinImportance is a range and is filtered in Go.
func equalityWhere(filter memory.QueryFilter) map[string]string {
	where := map[string]string{}
	if filter.Speaker != "" {
		where["speaker"] = string(filter.Speaker)
	}
	if filter.Type != "" {
		where["type"] = string(filter.Type)
	}
	if len(where) == 0 {
		return nil
	}
	return where
}

// fragmentMetadata flattens a fragment into chromem's string metadata.
func fragmentMetadata(frag core.Fragment) map[string]string {
	md := map[string]string{
		"speaker":          string(frag.Speaker),
		"type":             string(frag.Type),
		"sentiment":        string(frag.Sentiment),
		"importance_score": strconv.Itoa(frag.ImportanceScore),
		"confidence":       strconv.FormatFloat(frag.Confidence, 'f', -1, 64),
		"timestamp":        frag.Timestamp.Format(time.RFC3339Nano),
		"inserted_at":      time.Now().UTC().Format(time.RFC3339Nano),
		"entities":         strings.Join(frag.Entities, ","),
		"topics":           strings.Join(frag.Topics, ","),
	}
	for k, v := range frag.Metadata {
		md["x_"+k] = v
	}
	return md
}

// fragmentFromResult rebuilds a fragment from stored metadata.
func fragmentFromResult(id, content string, md map[string]string) (core.Fragment, error) {
	score, err := strconv.Atoi(md["importance_score"])
	if err != nil {
		return core.Fragment{}, fmt.Errorf("importance_score: %w", err)
	}
	confidence, _ := strconv.ParseFloat(md["confidence"], 64)
	ts, err := time.Parse(time.RFC3339Nano, md["timestamp"])
	if err != nil {
		return core.Fragment{}, fmt.Errorf("timestamp: %w", err)
	}

	frag := core.Fragment{
		ID:              id,
		Content:         content,
		Speaker:         core.Speaker(md["speaker"]),
		Type:            core.FragmentType(md["type"]),
		Sentiment:       core.Sentiment(md["sentiment"]),
		ImportanceScore: score,
		Confidence:      confidence,
		Timestamp:       ts,
	}
	if md["entities"] != "" {
		frag.Entities = strings.Split(md["entities"], ",")
	}
	if md["topics"] != "" {
		frag.Topics = strings.Split(md["topics"], ",")
	}
	for k, v := range md {
		if strings.HasPrefix(k, "x_") {
			if frag.Metadata == nil {
				frag.Metadata = make(map[string]string)
			}
			frag.Metadata[strings.TrimPrefix(k, "x_")] = v
		}
	}
	if err := frag.Validate(); err != nil {
		return core.Fragment{}, err
	}
	return frag, nil
}
