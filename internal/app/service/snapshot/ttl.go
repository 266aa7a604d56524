package snapshot

import (
	"time"

	"github.com/quizforge/billing/pkg/types"
)

const (
	ttlFloor        = 15 * time.Minute
	ttlNearRenewal  = 1 * time.Hour
	ttlMidWindow    = 6 * time.Hour
	ttlFarFromEvent = 24 * time.Hour
)

// TTLFor picks a cache lifetime from the snapshot's distance to its next
// billing event. Snapshots near a renewal go stale faster, so they expire
// sooner; snapshots in states that can flip at any moment get a short leash.
// The renewal-kind check comes first: a pending period-end cancellation keeps
// status active but is still an imminent transition.
func TTLFor(snap *types.SubscriptionSnapshot, now time.Time) time.Duration {
	if snap == nil {
		return ttlFarFromEvent
	}
	if snap.RenewalKind == types.RenewalKindCanceled || snap.RenewalKind == types.RenewalKindTrial {
		return ttlNearRenewal
	}
	if snap.Status == types.SubscriptionStatusNone || snap.CurrentPeriodEnd == nil {
		return ttlFarFromEvent
	}
	until := snap.CurrentPeriodEnd.Sub(now)
	switch {
	case until > 7*24*time.Hour:
		return ttlFarFromEvent
	case until > 3*24*time.Hour:
		return ttlMidWindow
	case until > 24*time.Hour:
		return ttlNearRenewal
	default:
		return ttlFloor
	}
}
