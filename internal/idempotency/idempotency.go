// Package idempotency caches (operation, key) → response pairs so a
// mutating operation's retries return the first response verbatim
// instead of re-executing side effects.
//
// Beyond post-completion replay, this adds in-flight de-duplication: a
// second identical request that arrives while the first is still
// executing waits for that result instead of racing it. Entries carry
// a TTL since the retention window is short-lived by design.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"
)

// Status describes what Store.CheckAndMark found for a key.
type Status int

const (
	// StatusNew means no prior request with this key is known; the
	// caller should execute the operation and call Complete.
	StatusNew Status = iota
	// StatusCached means a completed response is available immediately.
	StatusCached
	// StatusInFlight means another caller is currently executing the
	// same (operation, key); wait on the returned channel.
	StatusInFlight
)

type record struct {
	done     chan struct{}
	response json.RawMessage
	hasResp  bool
}

// Store coalesces concurrent duplicate requests and replays completed
// ones. Retention of completed responses is governed by ttl passed to
// New.
type Store struct {
	mu      sync.Mutex
	entries map[string]*record
	ttl     time.Duration
}

// DefaultRetention is the idempotency retention window used when New
// is called with ttl <= 0, matching the PSP industry convention (e.g.
// Stripe) of a 24-hour idempotency-key window.
const DefaultRetention = 24 * time.Hour

func New(ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultRetention
	}
	return &Store{entries: make(map[string]*record), ttl: ttl}
}

// ErrReleased is returned by WaitForResult when the in-flight request
// it waited on was released by Fail without a response.
var ErrReleased = errors.New("idempotency: in-flight request released without a response")

func scopeKey(operation, key string) string { return operation + ":" + key }

// CheckAndMark looks up (operation, key). If new, it reserves the slot
// and returns StatusNew with a nil channel — the caller must call
// Complete (or Fail) when done. If in flight, it returns the channel
// to wait on. If cached, it returns the stored response immediately.
func (s *Store) CheckAndMark(operation, key string) (Status, json.RawMessage, chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := scopeKey(operation, key)
	r, ok := s.entries[k]
	if !ok {
		r = &record{done: make(chan struct{})}
		s.entries[k] = r
		return StatusNew, nil, nil
	}
	if r.hasResp {
		return StatusCached, r.response, nil
	}
	return StatusInFlight, nil, r.done
}

// WaitForResult blocks until done closes or ctx is canceled, then
// returns the completed response for (operation, key). If the first
// request was released by Fail, it returns ErrReleased so the caller
// re-executes instead of treating an empty response as a replay.
func (s *Store) WaitForResult(ctx context.Context, operation, key string, done chan struct{}) (json.RawMessage, error) {
	select {
	case <-done:
		s.mu.Lock()
		defer s.mu.Unlock()
		r, ok := s.entries[scopeKey(operation, key)]
		if !ok || !r.hasResp {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, ErrReleased
		}
		return r.response, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete stores response for (operation, key) and releases anyone
// waiting in WaitForResult. The entry expires after ttl via a
// best-effort timer so memory doesn't grow unbounded.
func (s *Store) Complete(operation, key string, response json.RawMessage) {
	s.mu.Lock()
	r, ok := s.entries[scopeKey(operation, key)]
	if !ok || r.hasResp {
		s.mu.Unlock()
		return
	}
	r.response = response
	r.hasResp = true
	close(r.done)
	s.mu.Unlock()

	if s.ttl > 0 {
		go func() {
			time.Sleep(s.ttl)
			s.mu.Lock()
			delete(s.entries, scopeKey(operation, key))
			s.mu.Unlock()
		}()
	}
}

// Fail releases anyone waiting in WaitForResult without caching a
// response, so the next identical request re-executes the operation
// instead of replaying a failure forever.
func (s *Store) Fail(operation, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := scopeKey(operation, key)
	r, ok := s.entries[k]
	if !ok {
		return
	}
	delete(s.entries, k)
	if !r.hasResp {
		close(r.done)
	}
}
