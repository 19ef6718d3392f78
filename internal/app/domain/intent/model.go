package intent

import "time"

// Intent is a unit of work submitted for solver fulfillment. Resolver stays
// empty until a resolution commits, and is set at most once.
type Intent struct {
	ID          string
	Payload     []byte
	Resolver    string
	SubmittedAt time.Time
	ResolvedAt  time.Time
}

// Resolved reports whether the intent already has a recorded resolver.
func (i Intent) Resolved() bool { return i.Resolver != "" }
