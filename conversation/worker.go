package conversation

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/lyangfan/deepmemory/core"
)

// bufferCap is the soft cap on the per-session message buffer; the
// oldest messages are evicted first.
const bufferCap = 50

// idleTTL is how long a session's in-memory state survives without a
// turn before it is eligible for eviction.
const idleTTL = 30 * time.Minute

// evictCheckLen is the map size above which eviction kicks in.
const evictCheckLen = 1024

// sessionState is the orchestrator-owned per-session state: the FIFO
// message buffer and the turn counter, guarded by mu.
type sessionState struct {
	mu         sync.Mutex
	buffer     []core.Message
	turns      int
	lastActive time.Time
}

func (s *sessionState) append(msg core.Message) {
	s.buffer = append(s.buffer, msg)
	if len(s.buffer) > bufferCap {
		s.buffer = s.buffer[len(s.buffer)-bufferCap:]
	}
	s.lastActive = time.Now()
}

// tail returns a copy of the last n buffered messages. The copy is what
// makes a scheduled job's window immune to later appends.
func (s *sessionState) tail(n int) []core.Message {
	start := len(s.buffer) - n
	if start < 0 {
		start = 0
	}
	out := make([]core.Message, len(s.buffer)-start)
	copy(out, s.buffer[start:])
	return out
}

// history returns the last n messages for prompt assembly.
func (s *sessionState) history(n int) []core.Message {
	return s.tail(n)
}

// sessionStates holds per-session state with idle eviction.
type sessionStates struct {
	mu     sync.Mutex
	states map[string]*sessionState
}

func newSessionStates() *sessionStates {
	return &sessionStates{states: make(map[string]*sessionState)}
}

func (s *sessionStates) get(sessionID string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.states) > evictCheckLen {
		cutoff := time.Now().Add(-idleTTL)
		for id, st := range s.states {
			if st.lastActive.Before(cutoff) && st.mu.TryLock() {
				st.mu.Unlock()
				delete(s.states, id)
			}
		}
	}

	st, ok := s.states[sessionID]
	if !ok {
		st = &sessionState{lastActive: time.Now()}
		s.states[sessionID] = st
	}
	return st
}

// extractJob is one scheduled extraction: a scope plus the message
// window snapshotted at schedule time.
type extractJob struct {
	scope  core.Scope
	window []core.Message
}

// extractPool runs extraction jobs on a bounded worker pool. Triggers
// for a scope that already has a scheduled or running job coalesce; the
// next trigger after completion re-windows.
type extractPool struct {
	manager *Manager
	jobs    chan extractJob
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[string]bool
	closed   bool
}

func newExtractPool(m *Manager, workers, queueSize int) *extractPool {
	p := &extractPool{
		manager:  m,
		jobs:     make(chan extractJob, queueSize),
		inflight: make(map[string]bool),
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// schedule enqueues a job without ever blocking the caller. Returns true
// when the job was accepted, false when it coalesced with an in-flight
// job or the queue was full.
func (p *extractPool) schedule(scope core.Scope, window []core.Message) bool {
	if len(window) == 0 {
		return false
	}
	key := scope.Key()

	p.mu.Lock()
	if p.closed || p.inflight[key] {
		p.mu.Unlock()
		if !p.closed {
			log.Printf("[EXTRACT] coalesced trigger for %s", scope)
		}
		return false
	}
	p.inflight[key] = true
	p.mu.Unlock()

	select {
	case p.jobs <- extractJob{scope: scope, window: window}:
		return true
	default:
		p.mu.Lock()
		delete(p.inflight, key)
		p.mu.Unlock()
		log.Printf("[EXTRACT] queue full, dropped trigger for %s", scope)
		return false
	}
}

func (p *extractPool) worker(id int) {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

// run executes one extraction. Failures are logged and swallowed: the
// next window includes the same messages and gets another attempt.
func (p *extractPool) run(job extractJob) {
	defer func() {
		p.mu.Lock()
		delete(p.inflight, job.scope.Key())
		p.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), p.manager.opts.ExtractTimeout)
	defer cancel()

	fragments, err := p.manager.extractor.Extract(ctx, job.window)
	if err != nil {
		log.Printf("[EXTRACT] %s: extraction failed: %v", job.scope, err)
		return
	}

	stored := 0
	for _, frag := range fragments {
		if _, err := p.manager.store.Insert(ctx, job.scope, frag); err != nil {
			log.Printf("[EXTRACT] %s: store fragment: %v", job.scope, err)
			continue
		}
		stored++
	}
	log.Printf("[EXTRACT] %s: stored %d/%d fragments", job.scope, stored, len(fragments))
}

// close stops accepting jobs and waits for in-flight work. Fire-and-
// forget semantics: everything already queued runs to completion.
func (p *extractPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	p.mu.Unlock()

	close(p.jobs)
	p.wg.Wait()
}
