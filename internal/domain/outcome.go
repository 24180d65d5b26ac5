package domain

// Outcome tags the result of a consolidation or promotion step. Operations
// report these instead of booleans so callers and logs can tell skip
// reasons apart.
type Outcome string

const (
	OutcomeConsolidated     Outcome = "consolidated"
	OutcomePromoted         Outcome = "promoted"
	OutcomeSkippedDuplicate Outcome = "skipped_duplicate"
	OutcomeSkippedLockBusy  Outcome = "skipped_lock_busy"
	OutcomeSkippedNoBatch   Outcome = "skipped_no_batch"
	OutcomeDropped          Outcome = "dropped"
	OutcomeKept             Outcome = "kept"
)
