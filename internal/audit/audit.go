// Package audit is the append-only record of every hook decision, permission
// outcome, and tool result in a session. The sink is the single writer of
// sequence numbers; readers replay from the beginning and then follow live.
package audit

import (
	"sync"
	"time"
)

// Kind classifies an audit record.
type Kind string

const (
	KindPreHook    Kind = "pre-hook"
	KindPermission Kind = "permission"
	KindPostHook   Kind = "post-hook"
	KindToolResult Kind = "tool-result"

	// KindTransport records stream-level faults (malformed protocol
	// lines, degraded streams). It is the one kind that is not scoped to
	// a tool invocation; its records carry an empty invocation ID.
	KindTransport Kind = "transport"
)

// Record is one audit entry. Seq is strictly increasing and gap-free for a
// session.
type Record struct {
	Seq          uint64         `json:"seq"`
	Time         time.Time      `json:"time"`
	Kind         Kind           `json:"kind"`
	InvocationID string         `json:"invocation_id"`
	Outcome      string         `json:"outcome"`
	Detail       map[string]any `json:"detail,omitempty"`
}

// Writer persists records durably. Implementations must tolerate being
// called from one goroutine at a time; failures are reported back as
// degraded-mode records, never as errors to the pipeline.
type Writer interface {
	Write(Record) error
}

// Sink accumulates records and fans them out to stream readers.
type Sink struct {
	mu      sync.Mutex
	records []Record
	nextSeq uint64
	subs    []*subscriber
	writer  Writer

	// degraded is set after a persist failure so the failure record
	// itself is not re-persisted in a loop.
	degraded bool
}

// NewSink creates an in-memory sink. writer may be nil.
func NewSink(writer Writer) *Sink {
	return &Sink{writer: writer}
}

// Record appends an entry. It never fails the caller: persistence errors
// are themselves recorded as a degraded-mode entry.
func (s *Sink) Record(kind Kind, invocationID, outcome string) {
	s.RecordDetail(kind, invocationID, outcome, nil)
}

// RecordDetail appends an entry with structured detail.
func (s *Sink) RecordDetail(kind Kind, invocationID, outcome string, detail map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(Record{
		Kind:         kind,
		InvocationID: invocationID,
		Outcome:      outcome,
		Detail:       detail,
	})
}

func (s *Sink) appendLocked(rec Record) {
	rec.Seq = s.nextSeq
	rec.Time = time.Now().UTC()
	s.nextSeq++
	s.records = append(s.records, rec)

	if s.writer != nil && !s.degraded {
		if err := s.writer.Write(rec); err != nil {
			s.degraded = true
			s.appendLocked(Record{
				Kind:         rec.Kind,
				InvocationID: rec.InvocationID,
				Outcome:      "audit-persist-degraded: " + err.Error(),
			})
		}
	}

	for _, sub := range s.subs {
		sub.notify()
	}
}

// Len returns the number of records appended so far.
func (s *Sink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

// Snapshot returns a copy of all records appended so far.
func (s *Sink) Snapshot() []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Record(nil), s.records...)
}

// Stream returns a channel that replays every record from sequence zero and
// then follows new appends until done is closed. Consumers needing only new
// entries must track the last sequence number they saw.
func (s *Sink) Stream(done <-chan struct{}) <-chan Record {
	out := make(chan Record)
	sub := &subscriber{wake: make(chan struct{}, 1)}

	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	go func() {
		defer close(out)
		defer s.unsubscribe(sub)

		var cursor uint64
		for {
			for {
				rec, ok := s.recordAt(cursor)
				if !ok {
					break
				}
				select {
				case out <- rec:
					cursor++
				case <-done:
					return
				}
			}
			select {
			case <-sub.wake:
			case <-done:
				return
			}
		}
	}()

	return out
}

func (s *Sink) recordAt(seq uint64) (Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if seq >= uint64(len(s.records)) {
		return Record{}, false
	}
	return s.records[seq], true
}

func (s *Sink) unsubscribe(sub *subscriber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, candidate := range s.subs {
		if candidate == sub {
			s.subs = append(s.subs[:i], s.subs[i+1:]...)
			return
		}
	}
}

type subscriber struct {
	wake chan struct{}
}

// notify is a non-blocking wakeup; a pending wakeup already covers any
// number of new records.
func (sub *subscriber) notify() {
	select {
	case sub.wake <- struct{}{}:
	default:
	}
}
