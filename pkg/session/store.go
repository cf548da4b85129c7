// Package session keeps resolved streams addressable by an opaque session ID
// for the lifetime of their TTL, and collapses concurrent resolutions of the
// same content key into a single upstream run.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"streamgate/pkg/stream"
)

// Session is one resolved, playable stream. All fields are immutable after
// creation; a change of upstream URL means a new session.
type Session struct {
	ID           string
	Key          stream.ContentKey
	URL          string
	Title        string
	Quality      stream.Quality
	Format       stream.Format
	Source       string
	HLS          bool
	Alternatives []stream.Candidate
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Expired reports whether the session's TTL has elapsed.
func (s *Session) Expired() bool {
	return time.Now().After(s.ExpiresAt)
}

// ResolveFunc produces a session body for a content key. The store stamps
// ID, CreatedAt and ExpiresAt itself.
type ResolveFunc func(ctx context.Context) (*Session, error)

// Store is the TTL session cache. Lookups by session ID serve the proxy;
// lookups by content key serve resolve-request deduplication.
type Store struct {
	ttl    time.Duration
	byID   *lru.LRU[string, *Session]
	byKey  *lru.LRU[string, *Session]
	flight singleflight.Group
}

// Stats is a point-in-time snapshot for the status API.
type Stats struct {
	ActiveSessions int           `json:"activeSessions"`
	TTL            time.Duration `json:"-"`
	TTLSeconds     int           `json:"ttlSeconds"`
}

// NewStore creates a Store with the given TTL and capacity bound.
func NewStore(ttl time.Duration, maxEntries int) *Store {
	return &Store{
		ttl:   ttl,
		byID:  lru.NewLRU[string, *Session](maxEntries, nil, ttl),
		byKey: lru.NewLRU[string, *Session](maxEntries, nil, ttl),
	}
}

// Get returns the session for an ID, or nil if unknown or expired. The
// expiry check is explicit: the cache sweeps lazily, and a stale entry must
// never be served.
func (s *Store) Get(id string) *Session {
	sess, ok := s.byID.Get(id)
	if !ok || sess.Expired() {
		return nil
	}
	return sess
}

// Fresh returns the unexpired session for a content key, if one exists.
func (s *Store) Fresh(key stream.ContentKey) *Session {
	sess, ok := s.byKey.Get(key.String())
	if !ok || sess.Expired() {
		return nil
	}
	return sess
}

// ResolveOrGet returns the fresh session for key, or runs resolve exactly
// once per key no matter how many callers arrive concurrently. Late joiners
// share the first caller's outcome, success or failure; once the run
// settles, the next request starts a fresh one.
//
// The resolution runs detached from the caller's context: a client that
// gives up must not cancel the work its concurrent peers are waiting on.
func (s *Store) ResolveOrGet(ctx context.Context, key stream.ContentKey, resolve ResolveFunc) (*Session, error) {
	if sess := s.Fresh(key); sess != nil {
		return sess, nil
	}

	v, err, _ := s.flight.Do(key.String(), func() (interface{}, error) {
		// A session may have been stored between the fresh-check and
		// winning the flight slot.
		if sess := s.Fresh(key); sess != nil {
			return sess, nil
		}

		sess, err := resolve(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}

		sess.ID = newSessionID()
		sess.Key = key
		sess.CreatedAt = time.Now()
		sess.ExpiresAt = sess.CreatedAt.Add(s.ttl)

		s.byID.Add(sess.ID, sess)
		s.byKey.Add(key.String(), sess)
		return sess, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

// Stats reports the current session count and configured TTL.
func (s *Store) Stats() Stats {
	active := 0
	for _, sess := range s.byID.Values() {
		if !sess.Expired() {
			active++
		}
	}
	return Stats{
		ActiveSessions: active,
		TTL:            s.ttl,
		TTLSeconds:     int(s.ttl / time.Second),
	}
}

func newSessionID() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms.
		panic(fmt.Sprintf("session id generation: %v", err))
	}
	return hex.EncodeToString(b)
}
