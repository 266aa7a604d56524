package stripegw

import (
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v74"
)

// Deferred plan changes ride on the external subscription object itself, as
// metadata, so they survive process restarts and are visible to every webhook
// delivery regardless of which instance handles it.
const (
	MetaPreviousPlanProduct      = "previous_plan_product"
	MetaPreviousPlanExpiresAt    = "previous_plan_expires_at"
	MetaScheduledNextPlanProduct = "scheduled_next_plan_product"
)

// DeferredChange records a scheduled downgrade: the plan the user keeps until
// the current period ends, and the plan the line item already points at.
type DeferredChange struct {
	PreviousPlanProduct      string
	PreviousPlanExpiresAt    time.Time
	ScheduledNextPlanProduct string
}

// Matured reports whether the previous plan's entitlement has lapsed.
func (d *DeferredChange) Matured(now time.Time) bool {
	return d != nil && !d.PreviousPlanExpiresAt.After(now)
}

// DeferredChangeFromMetadata parses deferred-change metadata from a
// subscription. Returns nil when no deferred change is recorded or the
// timestamp is unparseable.
func DeferredChangeFromMetadata(md map[string]string) *DeferredChange {
	if md == nil || md[MetaPreviousPlanProduct] == "" {
		return nil
	}
	unix, err := strconv.ParseInt(md[MetaPreviousPlanExpiresAt], 10, 64)
	if err != nil {
		return nil
	}
	return &DeferredChange{
		PreviousPlanProduct:      md[MetaPreviousPlanProduct],
		PreviousPlanExpiresAt:    time.Unix(unix, 0).UTC(),
		ScheduledNextPlanProduct: md[MetaScheduledNextPlanProduct],
	}
}

// ApplyDeferredChange stamps the deferred-change metadata onto update params.
func ApplyDeferredChange(params *stripe.SubscriptionParams, dc *DeferredChange) {
	params.AddMetadata(MetaPreviousPlanProduct, dc.PreviousPlanProduct)
	params.AddMetadata(MetaPreviousPlanExpiresAt, strconv.FormatInt(dc.PreviousPlanExpiresAt.Unix(), 10))
	params.AddMetadata(MetaScheduledNextPlanProduct, dc.ScheduledNextPlanProduct)
}

// ClearDeferredChange removes the metadata keys; the gateway drops keys set to
// the empty string.
func ClearDeferredChange(params *stripe.SubscriptionParams) {
	params.AddMetadata(MetaPreviousPlanProduct, "")
	params.AddMetadata(MetaPreviousPlanExpiresAt, "")
	params.AddMetadata(MetaScheduledNextPlanProduct, "")
}
