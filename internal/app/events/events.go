// Package events carries the engine's fire-and-forget observability records.
// Subscribers never influence control flow; publishing never fails.
package events

import (
	"sync"
	"time"
)

// Type identifies an event kind.
type Type string

const (
	TypeIntentSubmitted    Type = "intent_submitted"
	TypeIntentResolved     Type = "intent_resolved"
	TypeBidCommitted       Type = "bid_committed"
	TypeBidRevealed        Type = "bid_revealed"
	TypeAuctionSettled     Type = "auction_settled"
	TypeReputationUpdated  Type = "reputation_updated"
	TypeSlashed            Type = "slashed"
	TypeBatchExecuted      Type = "batch_executed"
	TypeTreasuryDeposit    Type = "treasury_deposit"
	TypeTreasuryWithdraw   Type = "treasury_withdraw"
	TypeFlashLoanRouted    Type = "flashloan_routed"
	TypeComplianceFlagsSet Type = "compliance_flags_set"
	TypeKeyRegisteredA     Type = "key_registered_scheme_a"
	TypeKeyRegisteredB     Type = "key_registered_scheme_b"
)

// Event is one observability record.
type Event struct {
	Type   Type
	At     time.Time
	Fields map[string]interface{}
}

// Sink receives published events.
type Sink interface {
	Publish(evt Event)
}

// Bus fans events out to subscribers and keeps a bounded ring of recent
// events for inspection endpoints. Safe for concurrent use.
type Bus struct {
	mu     sync.Mutex
	subs   []func(Event)
	recent []Event
	max    int
}

// NewBus creates a bus retaining at most max recent events.
func NewBus(max int) *Bus {
	if max <= 0 {
		max = 256
	}
	return &Bus{max: max}
}

var _ Sink = (*Bus)(nil)

// Subscribe registers a callback. Callbacks run synchronously on the
// publishing goroutine; panics are swallowed so a bad subscriber cannot
// disturb engine operations.
func (b *Bus) Subscribe(fn func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, fn)
}

// Publish records the event and notifies subscribers. Best effort only.
func (b *Bus) Publish(evt Event) {
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}

	b.mu.Lock()
	b.recent = append(b.recent, evt)
	if len(b.recent) > b.max {
		b.recent = b.recent[len(b.recent)-b.max:]
	}
	subs := make([]func(Event), len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, fn := range subs {
		func() {
			defer func() { _ = recover() }()
			fn(evt)
		}()
	}
}

// Recent returns a copy of the retained events, oldest first.
func (b *Bus) Recent() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Event, len(b.recent))
	copy(out, b.recent)
	return out
}

// Emit is a convenience for constructing and publishing in one call. A nil
// sink is a no-op so services can run without observability wired.
func Emit(sink Sink, typ Type, fields map[string]interface{}) {
	if sink == nil {
		return
	}
	sink.Publish(Event{Type: typ, At: time.Now().UTC(), Fields: fields})
}
