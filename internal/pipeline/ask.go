package pipeline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// AskDecision is an external party's answer to a permission escalation.
type AskDecision struct {
	Allow        bool
	Reason       string
	UpdatedInput map[string]any
}

type askOutcome int

const (
	askResolved askOutcome = iota
	askTimedOut
	askCancelled
)

// AskBroker matches pending permission escalations to their decisions.
// Each invocation waits on its own channel, so one unanswered ask never
// blocks another invocation's pipeline.
type AskBroker struct {
	mu      sync.Mutex
	pending map[string]chan AskDecision
}

// NewAskBroker creates an empty broker.
func NewAskBroker() *AskBroker {
	return &AskBroker{pending: make(map[string]chan AskDecision)}
}

// Await blocks until Resolve is called for invocationID, the timeout
// elapses, or ctx is cancelled. The pending entry is removed on all paths.
func (b *AskBroker) Await(ctx context.Context, invocationID string, timeout time.Duration) (AskDecision, askOutcome) {
	ch := make(chan AskDecision, 1)

	b.mu.Lock()
	b.pending[invocationID] = ch
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, invocationID)
		b.mu.Unlock()
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case decision := <-ch:
		return decision, askResolved
	case <-timer.C:
		return AskDecision{}, askTimedOut
	case <-ctx.Done():
		return AskDecision{}, askCancelled
	}
}

// Resolve delivers a decision for a pending escalation. It reports false
// when no invocation with that ID is waiting (already resolved, timed out,
// or never escalated). The send never blocks: the channel holds one
// decision and only the first resolution counts.
func (b *AskBroker) Resolve(invocationID string, decision AskDecision) bool {
	b.mu.Lock()
	ch, ok := b.pending[invocationID]
	if ok {
		delete(b.pending, invocationID)
	}
	b.mu.Unlock()

	if !ok {
		return false
	}
	ch <- decision
	return true
}

// Pending lists the invocation IDs currently awaiting a decision, sorted.
func (b *AskBroker) Pending() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	ids := make([]string, 0, len(b.pending))
	for id := range b.pending {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
