// Package prooftracker watches a named set of proof Y values until every
// one of them is reported SPENT by the mint, firing a callback when the
// set completes. It is how a peer notices that its counterparty actually
// redeemed the proofs it handed over (spec.md §4.5.3).
package prooftracker

import (
	"context"
	"errors"
	"sync"
	"time"
)

type State int

const (
	Unspent State = iota
	Pending
	Spent
	Unknown
)

// ProofUpdate is one entry of a mint's proof-state subscription push.
type ProofUpdate struct {
	Y       string
	State   State
	Witness string
}

// Source is the mint-adapter side of a proof-state subscription: NUT-07
// over a persistent connection, abstracted so prooftracker can be driven
// by a fake source in tests.
type Source interface {
	SubscribeProofState(ctx context.Context, ys []string) (<-chan ProofUpdate, error)
}

var ErrUnknownSet = errors.New("unknown tracked set")

type set struct {
	remaining map[string]bool
	witnesses map[string]string
	done      chan struct{}
	onDone    func(witnesses map[string]string)
	closed    bool
}

// Tracker multiplexes one mint proof-state subscription across any
// number of named sets registered via Track.
type Tracker struct {
	mu   sync.Mutex
	sets map[string]*set
}

func New() *Tracker {
	return &Tracker{sets: make(map[string]*set)}
}

// Track registers ys under name and calls onDone, exactly once, as soon
// as every y in ys has been observed SPENT. Witnesses observed along the
// way (e.g. an HTLC preimage bundled in the spending witness) are passed
// to onDone keyed by Y.
func (t *Tracker) Track(name string, ys []string, onDone func(witnesses map[string]string)) {
	t.mu.Lock()
	defer t.mu.Unlock()

	remaining := make(map[string]bool, len(ys))
	for _, y := range ys {
		remaining[y] = true
	}
	t.sets[name] = &set{
		remaining: remaining,
		witnesses: make(map[string]string),
		done:      make(chan struct{}),
		onDone:    onDone,
	}
}

// Observe applies a single proof-state update from the mint's
// subscription to every tracked set that contains that Y.
func (t *Tracker) Observe(update ProofUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, s := range t.sets {
		if !s.remaining[update.Y] {
			continue
		}
		if update.Witness != "" {
			s.witnesses[update.Y] = update.Witness
		}
		if update.State != Spent {
			continue
		}
		delete(s.remaining, update.Y)
		if len(s.remaining) == 0 && !s.closed {
			s.closed = true
			close(s.done)
			if s.onDone != nil {
				s.onDone(s.witnesses)
			}
		}
	}
}

// Run drains updates from src for ys until ctx is canceled, calling
// Observe on each one, and returns nil if src closes the channel. The
// subscription covers only the ys passed in; Ys of sets tracked later
// are not added to it.
func (t *Tracker) Run(ctx context.Context, src Source, ys []string) error {
	updates, err := src.SubscribeProofState(ctx, ys)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.Observe(update)
		}
	}
}

// Wait blocks until name's set completes, ctx is canceled, or deadline
// elapses, whichever comes first.
func (t *Tracker) Wait(ctx context.Context, name string, deadline time.Duration) (map[string]string, error) {
	t.mu.Lock()
	s, ok := t.sets[name]
	t.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSet
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case <-s.done:
		return s.witnesses, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, context.DeadlineExceeded
	}
}

// Forget removes a completed or abandoned set's bookkeeping.
func (t *Tracker) Forget(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sets, name)
}
