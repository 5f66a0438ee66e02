package model

// Outcome of a dispatched command.
type Outcome string

const (
	Applied  Outcome = "applied"
	Rejected Outcome = "rejected"
)

// DispatchResult is the single outcome of dispatching one command.
type DispatchResult struct {
	Outcome Outcome       `json:"outcome"`
	Err     *CommandError `json:"error,omitempty"`
}

func AppliedResult() DispatchResult { return DispatchResult{Outcome: Applied} }

func RejectedResult(err *CommandError) DispatchResult {
	return DispatchResult{Outcome: Rejected, Err: err}
}

// IsApplied is a shortcut for r.Outcome == Applied.
func (r DispatchResult) IsApplied() bool { return r.Outcome == Applied }
