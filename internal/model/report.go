package model

// ExerciseFailure records why a keeper could not exercise a position.
type ExerciseFailure struct {
	ID     uint64 `json:"id"`
	Kind   string `json:"kind"`
	Reason string `json:"reason"`
	Err    error  `json:"-"`
}

// Report summarizes one keeper batch.
type Report struct {
	RunID     string            `json:"run_id"`
	Succeeded []uint64          `json:"succeeded"`
	Failed    []ExerciseFailure `json:"failed"`
}

// Attempted returns how many exercises were issued in the batch.
func (r Report) Attempted() int {
	return len(r.Succeeded) + len(r.Failed)
}
