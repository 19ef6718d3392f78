package reputation

import "time"

// Score is a solver's trust score. Value never goes below zero; the ledger
// clamps and records a slash instead.
type Score struct {
	Solver    string
	Value     int64
	UpdatedAt time.Time
}

// Slash records a floor-clamp event with the penalty magnitude applied.
type Slash struct {
	Solver    string
	Magnitude int64
	At        time.Time
}
