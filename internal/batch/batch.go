// Package batch defines the shared result shapes for bulk operations: every
// batch returns a per-item result list positioned by the caller-supplied
// local_id (or input index) plus an aggregate summary.
package batch

// ItemResult is the outcome of one batch item. Exactly one of the optional
// fields is populated depending on the entity kind.
type ItemResult struct {
	LocalID    any    `json:"local_id"`
	Success    bool   `json:"success"`
	Error      string `json:"error,omitempty"`
	ID         int64  `json:"id,omitempty"`
	GroupID    string `json:"group_id,omitempty"`
	Name       string `json:"name,omitempty"`
	Action     string `json:"action,omitempty"`
	ExistingID any    `json:"existing_id,omitempty"`
}

// Summary aggregates a batch outcome.
type Summary struct {
	TotalProcessed int `json:"total_processed"`
	Added          int `json:"added"`
	Updated        int `json:"updated,omitempty"`
	Skipped        int `json:"skipped"`
}

// Result is the full response of a batch operation.
type Result struct {
	Results []ItemResult `json:"results"`
	Summary Summary      `json:"summary"`
}

// LocalID picks the caller-supplied id when present, else the input index.
func LocalID(supplied any, index int) any {
	if supplied != nil {
		return supplied
	}
	return index
}
