package types

import "time"

type SubscriptionStatus string

const (
	SubscriptionStatusActive            SubscriptionStatus = "active"
	SubscriptionStatusTrialing          SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue           SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled          SubscriptionStatus = "canceled"
	SubscriptionStatusIncomplete        SubscriptionStatus = "incomplete"
	SubscriptionStatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	SubscriptionStatusUnpaid            SubscriptionStatus = "unpaid"
	SubscriptionStatusNone              SubscriptionStatus = "none"
)

type RenewalKind string

const (
	RenewalKindMonthly  RenewalKind = "monthly"
	RenewalKindYearly   RenewalKind = "yearly"
	RenewalKindTrial    RenewalKind = "trial"
	RenewalKindCanceled RenewalKind = "canceled"
	RenewalKindNone     RenewalKind = "none"
)

// SubscriptionSnapshot is the cached, point-in-time view of a user's
// subscription. It is created on cache miss, deleted (never overwritten) on any
// mutation, and recreated lazily on the next read.
type SubscriptionSnapshot struct {
	SubscriptionID     *string            `json:"subscription_id"`
	CustomerID         string             `json:"customer_id"`
	Status             SubscriptionStatus `json:"status"`
	PlanID             PlanID             `json:"plan_id"`
	RenewalKind        RenewalKind        `json:"renewal_kind"`
	ProductRef         *string            `json:"product_ref"`
	PriceRef           *string            `json:"price_ref"`
	CancelAtPeriodEnd  bool               `json:"cancel_at_period_end"`
	CurrentPeriodStart *time.Time         `json:"current_period_start"`
	CurrentPeriodEnd   *time.Time         `json:"current_period_end"`
	// ScheduledNextPlan is the tier that takes effect at period end while a
	// deferred downgrade is pending.
	ScheduledNextPlan *PlanID   `json:"scheduled_next_plan"`
	CachedAt          time.Time `json:"cached_at"`
}

func (s *SubscriptionSnapshot) Active() bool {
	return s != nil && (s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing)
}
