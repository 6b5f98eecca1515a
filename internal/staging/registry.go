package staging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a session id has no corresponding entry
// (or no longer does, after eviction).
var ErrNotFound = fmt.Errorf("staging session not found")

// ErrFingerprintMismatch is returned when a request's credential
// fingerprint does not match the session's owner fingerprint.
var ErrFingerprintMismatch = fmt.Errorf("credential fingerprint does not match session owner")

// TransitionHook runs synchronously under a session's per-id lock
// immediately after a state change, so it can perform the transition's
// fast side effect (e.g. sealing a bundle or enqueueing a Portal job)
// atomically with the state change itself, per spec.md section 4.8.
type TransitionHook func(session *Session, from, to State)

// EvictHook runs once, outside any lock, when a session is removed from
// the registry, so the caller can release the session's bundle.
type EvictHook func(session *Session)

type entry struct {
	mu      sync.Mutex
	session *Session
}

// Registry is the process-wide mapping from staging-repository id to
// session record (C4). Reads and writes on a single id are linearized by
// that id's lock; the top-level maps are guarded by a separate lock used
// only for insertion, removal, and the secondary index.
type Registry struct {
	mint *IDMint

	mu                   sync.RWMutex
	sessions             map[string]*entry
	byProfileFingerprint map[string]map[string]struct{}

	clock             func() time.Time
	inactivityTimeout time.Duration
	retentionWindow   time.Duration

	onTransition TransitionHook
	onEvict      EvictHook

	stop chan struct{}
	done chan struct{}
}

// Config bundles the Registry's eviction policy and clock.
type Config struct {
	InactivityTimeout time.Duration
	RetentionWindow   time.Duration
	Clock             func() time.Time
}

// NewRegistry constructs an empty Registry. The sweep goroutine is not
// started until Run is called.
func NewRegistry(cfg Config) *Registry {
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Registry{
		mint:                 NewIDMint(),
		sessions:             make(map[string]*entry),
		byProfileFingerprint: make(map[string]map[string]struct{}),
		clock:                clock,
		inactivityTimeout:    cfg.InactivityTimeout,
		retentionWindow:      cfg.RetentionWindow,
		stop:                 make(chan struct{}),
		done:                 make(chan struct{}),
	}
}

// SetTransitionHook installs the hook invoked on every successful
// transition, under the affected session's lock.
func (r *Registry) SetTransitionHook(hook TransitionHook) {
	r.onTransition = hook
}

// SetEvictHook installs the hook invoked when a session is destroyed.
func (r *Registry) SetEvictHook(hook EvictHook) {
	r.onEvict = hook
}

func indexKey(profile, fingerprint string) string {
	return profile + "\x00" + fingerprint
}

// Create mints a new id for profile, inserts a session in state Open, and
// indexes it by (profile, fingerprint). Minting and insertion happen under
// the same lock so no two callers can observe the same id.
func (r *Registry) Create(profile, description, fingerprint string, bundleHandle interface{}) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.mint.Next(profile)
	if err != nil {
		return Session{}, err
	}

	now := r.clock()
	session := &Session{
		ID:             id,
		Profile:        profile,
		Description:    description,
		Fingerprint:    fingerprint,
		State:          Open,
		BundleHandle:   bundleHandle,
		CreatedAt:      now,
		UpdatedAt:      now,
		LastActivityAt: now,
	}

	r.sessions[id] = &entry{session: session}
	key := indexKey(profile, fingerprint)
	if r.byProfileFingerprint[key] == nil {
		r.byProfileFingerprint[key] = make(map[string]struct{})
	}
	r.byProfileFingerprint[key][id] = struct{}{}

	log.Info().Str("session_id", id).Str("profile", profile).Msg("staging session opened")
	return *session, nil
}

// Get returns a snapshot copy of the session with id.
func (r *Registry) Get(id string) (Session, bool) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return *e.session, true
}

// LookupByOwner returns the ids of every session staged under profile by
// the credential that fingerprints to fingerprint.
func (r *Registry) LookupByOwner(profile, fingerprint string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids, ok := r.byProfileFingerprint[indexKey(profile, fingerprint)]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ids))
	for id := range ids {
		out = append(out, id)
	}
	return out
}

// WithSession runs fn with exclusive access to the session with id,
// updating last_activity_at first. fn must not perform blocking I/O or
// Portal calls; it should snapshot or mutate fields only (spec.md section
// 5's "no suspension points under the registry lock" rule).
func (r *Registry) WithSession(id string, fn func(session *Session) error) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.session.LastActivityAt = r.clock()
	return fn(e.session)
}

// Transition applies event to the session with id under its lock, running
// the installed TransitionHook (if any) before releasing the lock, and
// returns the post-transition snapshot.
func (r *Registry) Transition(id string, event Event) (Session, error) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	from := e.session.State
	next, err := Apply(from, event)
	if err != nil {
		return *e.session, err
	}

	e.session.State = next
	now := r.clock()
	e.session.UpdatedAt = now
	e.session.LastActivityAt = now

	if r.onTransition != nil {
		r.onTransition(e.session, from, next)
	}

	log.Info().Str("session_id", id).Str("from", string(from)).Str("to", string(next)).Str("event", string(event)).Msg("staging session transitioned")
	return *e.session, nil
}

// Drop forcibly removes a session from the reachable-by-poll state without
// yet destroying its storage; Sweep (or an explicit Destroy) reclaims
// storage afterward.
func (r *Registry) Drop(id string) (Session, error) {
	return r.Transition(id, EventDrop)
}

// remove deletes id from every index and returns the removed session, if
// any. Called only from the sweep loop or Destroy.
func (r *Registry) remove(id string) (*Session, bool) {
	r.mu.Lock()
	e, ok := r.sessions[id]
	if !ok {
		r.mu.Unlock()
		return nil, false
	}
	delete(r.sessions, id)

	e.mu.Lock()
	session := e.session
	e.mu.Unlock()

	key := indexKey(session.Profile, session.Fingerprint)
	if ids, ok := r.byProfileFingerprint[key]; ok {
		delete(ids, id)
		if len(ids) == 0 {
			delete(r.byProfileFingerprint, key)
		}
	}
	r.mu.Unlock()

	return session, true
}

// Destroy removes id from the registry and runs the evict hook. Idempotent.
func (r *Registry) Destroy(id string) {
	session, ok := r.remove(id)
	if !ok {
		return
	}
	log.Info().Str("session_id", id).Str("state", string(session.State)).Msg("staging session evicted")
	if r.onEvict != nil {
		r.onEvict(session)
	}
}

// Run starts the background eviction sweep (part of C4) at the given
// interval, until ctx-free Stop is called. Grounded on the teacher's
// pattern of a ticker-driven goroutine owned by the component that created
// it, stopped explicitly during graceful shutdown.
func (r *Registry) Run(interval time.Duration) {
	go func() {
		defer close(r.done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit.
func (r *Registry) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Registry) sweep() {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.sweepOne(id)
	}
}

func (r *Registry) sweepOne(id string) {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return
	}

	now := r.clock()

	e.mu.Lock()
	state := e.session.State
	updatedAt := e.session.UpdatedAt
	lastActivity := e.session.LastActivityAt
	e.mu.Unlock()

	if state.Terminal() {
		if now.Sub(updatedAt) > r.retentionWindow {
			r.Destroy(id)
		}
		return
	}

	if state == Open && now.Sub(lastActivity) > r.inactivityTimeout {
		if _, err := r.Transition(id, EventInactivityTimeout); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("implicit close on inactivity failed")
		}
		return
	}

	if now.Sub(lastActivity) > r.inactivityTimeout {
		log.Debug().Str("session_id", id).Str("state", string(state)).Msg("inactive non-open session awaiting terminal retention")
	}
}
