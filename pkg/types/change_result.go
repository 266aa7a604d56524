package types

import "time"

// ChangeResult is the outcome of a plan-change action. Gateway failures are
// reported through Success/Message rather than thrown past the service
// boundary; the API layer decides HTTP semantics.
type ChangeResult struct {
	Success         bool       `json:"success"`
	Message         string     `json:"message,omitempty"`
	EffectiveDate   *time.Time `json:"effective_date,omitempty"`
	ProrationAmount *int64     `json:"proration_amount,omitempty"`
}

func ChangeOK(effective *time.Time) *ChangeResult {
	return &ChangeResult{Success: true, EffectiveDate: effective}
}

func ChangeFailed(msg string) *ChangeResult {
	return &ChangeResult{Success: false, Message: msg}
}
