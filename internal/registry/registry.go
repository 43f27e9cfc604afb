// Package registry is the authoritative per-challenge state store. It is the
// single writer of Challenge records: every mutation runs inside a
// per-challenge exclusive section and commits atomically or not at all.
// Distinct challenge IDs proceed fully in parallel.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ChallengeEngine/internal/challenge"
	"ChallengeEngine/internal/event"
	"ChallengeEngine/internal/observability"
)

// ErrNotFound is returned when no challenge exists for the given ID.
var ErrNotFound = errors.New("challenge not found")

// Store is the durable backing for challenge records. Commit must be atomic:
// the challenge row, the applied-trade marker, and the outbox rows all land
// in one transaction or none do.
type Store interface {
	LoadChallenge(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error)
	CommitChallenge(ctx context.Context, ch *challenge.Challenge, appliedTradeID *uuid.UUID, effects []event.Effect) error
}

// Mutation is the result of a successful exclusive-section callback: the new
// challenge state, the trade that produced it (nil for non-trade mutations
// such as review freezes), and the outbound effects the commit carries.
type Mutation struct {
	Challenge      *challenge.Challenge
	AppliedTradeID *uuid.UUID
	Effects        []event.Effect
}

// CommitHook observes committed mutations. The Registry invokes it after the
// store transaction succeeds, still inside the exclusive section; hooks must
// not block (effects are already durable in the outbox, so queue sends are
// non-blocking with drop).
type CommitHook interface {
	Committed(ch *challenge.Challenge, effects []event.Effect)
}

// MultiHook fans one committed mutation out to several hooks in order.
type MultiHook []CommitHook

func (m MultiHook) Committed(ch *challenge.Challenge, effects []event.Effect) {
	for _, h := range m {
		h.Committed(ch, effects)
	}
}

// Registry serializes mutation per challenge ID and caches the current state
// of every challenge it has touched. The cache is authoritative between
// restarts of the process; the Store is authoritative across them.
type Registry struct {
	store   Store
	hook    CommitHook
	metrics *observability.Metrics
	log     zerolog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
	cache map[uuid.UUID]*challenge.Challenge
}

func New(store Store, hook CommitHook, metrics *observability.Metrics, log zerolog.Logger) *Registry {
	return &Registry{
		store:   store,
		hook:    hook,
		metrics: metrics,
		log:     log,
		locks:   make(map[uuid.UUID]*sync.Mutex),
		cache:   make(map[uuid.UUID]*challenge.Challenge),
	}
}

// lockFor returns the mutex serializing one challenge. Locks live for the
// process lifetime; the map is bounded by the number of distinct challenges.
func (r *Registry) lockFor(id uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()

	l, ok := r.locks[id]
	if !ok {
		l = &sync.Mutex{}
		r.locks[id] = l
	}
	return l
}

// Load returns the current state of a challenge, or ErrNotFound. The returned
// value is a copy, so callers never see the authoritative record.
func (r *Registry) Load(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	l := r.lockFor(id)
	l.Lock()
	defer l.Unlock()

	ch, err := r.loadLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	return ch.Clone(), nil
}

func (r *Registry) loadLocked(ctx context.Context, id uuid.UUID) (*challenge.Challenge, error) {
	if ch, ok := r.cache[id]; ok {
		return ch, nil
	}

	ch, err := r.store.LoadChallenge(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache[id] = ch
	return ch, nil
}

// WithExclusiveAccess runs fn under the challenge's exclusive section for the
// full read-modify-decide-commit cycle. fn receives a clone of the current
// state and returns either a Mutation to commit, nil to drop without
// mutating, or an error to discard.
//
// On commit the new state version must exceed the prior one: committed
// mutations strictly increase StateVersion, which is the idempotency key for
// all outbound effects.
func (r *Registry) WithExclusiveAccess(ctx context.Context, id uuid.UUID, fn func(ch *challenge.Challenge) (*Mutation, error)) error {
	l := r.lockFor(id)
	waitStart := time.Now()
	l.Lock()
	defer l.Unlock()
	if r.metrics != nil {
		r.metrics.LockWait.Observe(time.Since(waitStart).Seconds())
	}

	current, err := r.loadLocked(ctx, id)
	if err != nil {
		return err
	}

	mut, err := fn(current.Clone())
	if err != nil {
		return err
	}
	if mut == nil {
		// Dropped without mutation.
		return nil
	}

	if mut.Challenge.StateVersion <= current.StateVersion {
		return fmt.Errorf("challenge %s: state version %d does not advance past %d",
			id, mut.Challenge.StateVersion, current.StateVersion)
	}

	if err := r.store.CommitChallenge(ctx, mut.Challenge, mut.AppliedTradeID, mut.Effects); err != nil {
		return fmt.Errorf("commit challenge %s: %w", id, err)
	}

	r.cache[id] = mut.Challenge

	if r.hook != nil {
		r.hook.Committed(mut.Challenge, mut.Effects)
	}

	return nil
}

// Register inserts a freshly purchased challenge into the registry. Used by
// the provisioning path and tests; ingestion never creates challenges.
func (r *Registry) Register(ctx context.Context, ch *challenge.Challenge) error {
	l := r.lockFor(ch.ID)
	l.Lock()
	defer l.Unlock()

	if _, ok := r.cache[ch.ID]; ok {
		return fmt.Errorf("challenge %s already registered", ch.ID)
	}

	if err := r.store.CommitChallenge(ctx, ch, nil, nil); err != nil {
		return fmt.Errorf("register challenge %s: %w", ch.ID, err)
	}
	r.cache[ch.ID] = ch

	r.log.Info().
		Str("challenge_id", ch.ID.String()).
		Str("challenge_type", ch.ChallengeTypeID).
		Int64("initial_balance", ch.InitialBalance).
		Msg("challenge registered")

	return nil
}
