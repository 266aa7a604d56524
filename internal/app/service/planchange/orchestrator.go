package planchange

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"

	"github.com/quizforge/billing/internal/app/service/profile"
	"github.com/quizforge/billing/internal/app/service/snapshot"
	"github.com/quizforge/billing/internal/platform/stripegw"
	"github.com/quizforge/billing/pkg/config"
	"github.com/quizforge/billing/pkg/logctx"
	"github.com/quizforge/billing/pkg/types"
)

// Proration behaviors accepted by the billing provider on subscription updates.
const (
	prorationAlwaysInvoice = "always_invoice"
	prorationCreate        = "create_prorations"
	prorationNone          = "none"
)

// Orchestrator drives every user-initiated plan mutation. Each action mutates
// the provider first, then the local profile where the entitlement actually
// changed, and always finishes by invalidating the cached snapshot. Deleting
// the snapshot instead of rewriting it is what keeps concurrent mutations safe.
type Orchestrator struct {
	cfg      *config.Config
	gw       stripegw.Gateway
	profiles profile.Store
	resolver *snapshot.Resolver
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewOrchestrator(cfg *config.Config, gw stripegw.Gateway, profiles profile.Store, resolver *snapshot.Resolver, log *zap.SugaredLogger) *Orchestrator {
	return &Orchestrator{cfg: cfg, gw: gw, profiles: profiles, resolver: resolver, log: log, now: time.Now}
}

// loadCurrent fetches the user's profile and live subscription. A nil
// subscription with nil error means the user has nothing to mutate.
func (o *Orchestrator) loadCurrent(ctx context.Context, userID string) (string, *stripe.Subscription, error) {
	p, err := o.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return "", nil, err
	}
	if p == nil || p.SubscriptionRef == nil || *p.SubscriptionRef == "" {
		return "", nil, nil
	}
	sub, err := o.gw.GetSubscription(ctx, *p.SubscriptionRef)
	if err != nil {
		return "", nil, fmt.Errorf("failed to load subscription %s: %w", *p.SubscriptionRef, err)
	}
	return *p.SubscriptionRef, sub, nil
}

// priceRefFor resolves the provider price for a tier and interval. The catalog
// in config wins; when it only names the product, the live price list is
// consulted so a price rotated on the provider side needs no redeploy.
func (o *Orchestrator) priceRefFor(ctx context.Context, plan types.PlanID, interval types.BillingInterval) (string, error) {
	if ref, err := o.cfg.PriceRefFor(plan, interval); err == nil {
		return ref, nil
	}
	item := o.cfg.GetPlanItemByPlanID(plan)
	if item == nil || item.ProductRef == "" {
		return "", fmt.Errorf("plan item not found: %s", plan)
	}
	prices, err := o.gw.ListPricesByProduct(ctx, item.ProductRef)
	if err != nil {
		return "", fmt.Errorf("failed to list prices for product %s: %w", item.ProductRef, err)
	}
	for _, p := range prices {
		if p.Active && p.Recurring != nil && stripegw.IntervalOf(p) == interval {
			return p.ID, nil
		}
	}
	return "", fmt.Errorf("no %s price found for plan %s", interval, plan)
}

// Upgrade moves the user to a higher tier immediately. The provider invoices
// the prorated difference right away and the billing anchor stays put.
func (o *Orchestrator) Upgrade(ctx context.Context, userID string, target types.PlanID, interval types.BillingInterval) *types.ChangeResult {
	if !target.Valid() || target == types.PlanFree {
		return types.ChangeFailed(fmt.Sprintf("invalid upgrade target: %s", target))
	}
	_, sub, err := o.loadCurrent(ctx, userID)
	if err != nil {
		return types.ChangeFailed(err.Error())
	}
	if sub == nil {
		return types.ChangeFailed("no active subscription to upgrade")
	}

	current := o.cfg.PlanForProductRef(stripegw.ProductRefOf(sub))
	if !target.AtLeast(current) || target == current {
		return types.ChangeFailed(fmt.Sprintf("plan %s is not an upgrade from %s", target, current))
	}

	priceRef, err := o.priceRefFor(ctx, target, interval)
	if err != nil {
		return types.ChangeFailed(err.Error())
	}
	item := stripegw.FirstItem(sub)
	if item == nil {
		return types.ChangeFailed("subscription has no line item")
	}

	params := &stripe.SubscriptionParams{
		ProrationBehavior:           stripe.String(prorationAlwaysInvoice),
		BillingCycleAnchorUnchanged: stripe.Bool(true),
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(item.ID),
			Price: stripe.String(priceRef),
		}},
	}
	// An upgrade supersedes any pending downgrade.
	stripegw.ClearDeferredChange(params)

	updated, err := o.gw.UpdateSubscription(ctx, sub.ID, params)
	if err != nil {
		logctx.FromCtx(ctx, o.log).Errorf("upgrade of user %s to %s failed: %v", userID, target, err)
		return types.ChangeFailed(fmt.Sprintf("billing provider rejected upgrade: %v", err))
	}

	if err := o.profiles.SetSubscription(ctx, userID, &updated.ID, target); err != nil {
		logctx.FromCtx(ctx, o.log).Errorf("failed to persist upgraded plan for user %s: %v", userID, err)
	}
	o.resolver.Invalidate(ctx, userID)

	effective := o.now().UTC()
	return types.ChangeOK(&effective)
}

// Downgrade moves the user to a lower tier. By default the change is deferred:
// the line item switches now with no proration, a metadata record preserves the
// old entitlement until the period ends, and the local plan stays on the higher
// tier. With immediate=true the switch takes effect right away with a prorated
// credit.
func (o *Orchestrator) Downgrade(ctx context.Context, userID string, target types.PlanID, interval types.BillingInterval, immediate bool) *types.ChangeResult {
	if !target.Valid() || target == types.PlanFree {
		return types.ChangeFailed(fmt.Sprintf("invalid downgrade target: %s", target))
	}
	_, sub, err := o.loadCurrent(ctx, userID)
	if err != nil {
		return types.ChangeFailed(err.Error())
	}
	if sub == nil {
		return types.ChangeFailed("no active subscription to downgrade")
	}

	current := o.cfg.PlanForProductRef(stripegw.ProductRefOf(sub))
	if target.AtLeast(current) {
		return types.ChangeFailed(fmt.Sprintf("plan %s is not a downgrade from %s", target, current))
	}

	priceRef, err := o.priceRefFor(ctx, target, interval)
	if err != nil {
		return types.ChangeFailed(err.Error())
	}
	targetItem := o.cfg.GetPlanItemByPlanID(target)
	item := stripegw.FirstItem(sub)
	if item == nil {
		return types.ChangeFailed("subscription has no line item")
	}

	params := &stripe.SubscriptionParams{
		BillingCycleAnchorUnchanged: stripe.Bool(true),
		Items: []*stripe.SubscriptionItemsParams{{
			ID:    stripe.String(item.ID),
			Price: stripe.String(priceRef),
		}},
	}

	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	if immediate {
		params.ProrationBehavior = stripe.String(prorationCreate)
		stripegw.ClearDeferredChange(params)
	} else {
		params.ProrationBehavior = stripe.String(prorationNone)
		stripegw.ApplyDeferredChange(params, &stripegw.DeferredChange{
			PreviousPlanProduct:      stripegw.ProductRefOf(sub),
			PreviousPlanExpiresAt:    periodEnd,
			ScheduledNextPlanProduct: targetItem.ProductRef,
		})
	}

	updated, err := o.gw.UpdateSubscription(ctx, sub.ID, params)
	if err != nil {
		logctx.FromCtx(ctx, o.log).Errorf("downgrade of user %s to %s failed: %v", userID, target, err)
		return types.ChangeFailed(fmt.Sprintf("billing provider rejected downgrade: %v", err))
	}

	if immediate {
		if err := o.profiles.SetSubscription(ctx, userID, &updated.ID, target); err != nil {
			logctx.FromCtx(ctx, o.log).Errorf("failed to persist downgraded plan for user %s: %v", userID, err)
		}
	}
	o.resolver.Invalidate(ctx, userID)

	if immediate {
		effective := o.now().UTC()
		return types.ChangeOK(&effective)
	}
	return types.ChangeOK(&periodEnd)
}

// Cancel schedules cancellation at period end. Entitlement is untouched until
// the provider confirms the deletion through a webhook.
func (o *Orchestrator) Cancel(ctx context.Context, userID string) *types.ChangeResult {
	_, sub, err := o.loadCurrent(ctx, userID)
	if err != nil {
		return types.ChangeFailed(err.Error())
	}
	if sub == nil {
		return types.ChangeFailed("no active subscription to cancel")
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := o.gw.UpdateSubscription(ctx, sub.ID, params); err != nil {
		logctx.FromCtx(ctx, o.log).Errorf("cancel for user %s failed: %v", userID, err)
		return types.ChangeFailed(fmt.Sprintf("billing provider rejected cancellation: %v", err))
	}
	o.resolver.Invalidate(ctx, userID)

	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
	return types.ChangeOK(&periodEnd)
}

// Reactivate clears a pending period-end cancellation.
func (o *Orchestrator) Reactivate(ctx context.Context, userID string) *types.ChangeResult {
	_, sub, err := o.loadCurrent(ctx, userID)
	if err != nil {
		return types.ChangeFailed(err.Error())
	}
	if sub == nil {
		return types.ChangeFailed("no subscription to reactivate")
	}
	if !sub.CancelAtPeriodEnd {
		return types.ChangeFailed("subscription is not scheduled for cancellation")
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(false),
	}
	if _, err := o.gw.UpdateSubscription(ctx, sub.ID, params); err != nil {
		logctx.FromCtx(ctx, o.log).Errorf("reactivate for user %s failed: %v", userID, err)
		return types.ChangeFailed(fmt.Sprintf("billing provider rejected reactivation: %v", err))
	}
	o.resolver.Invalidate(ctx, userID)

	// Warm the cache so the next read reflects the reactivated state.
	if _, err := o.resolver.Resolve(ctx, userID); err != nil {
		logctx.FromCtx(ctx, o.log).Warnf("failed to warm snapshot after reactivation for user %s: %v", userID, err)
	}

	effective := o.now().UTC()
	return types.ChangeOK(&effective)
}

// UpgradePreview quotes the cost of an immediate upgrade before committing.
type UpgradePreview struct {
	CurrentPlan         types.PlanID `json:"current_plan"`
	TargetPlan          types.PlanID `json:"target_plan"`
	CurrentPriceAmount  int64        `json:"current_price_amount"`
	TargetPriceAmount   int64        `json:"target_price_amount"`
	CreditAmount        int64        `json:"credit_amount"`
	DueNow              int64        `json:"due_now"`
	Currency            string       `json:"currency"`
	CurrentPeriodEnd    time.Time    `json:"current_period_end"`
	RemainingPeriodDays int64        `json:"remaining_period_days"`
}

// PreviewUpgrade computes the unused-time credit for the current plan and the
// net amount due for the target price. Day counts round up so a partial day
// still earns a full day's credit.
func (o *Orchestrator) PreviewUpgrade(ctx context.Context, userID string, target types.PlanID, interval types.BillingInterval) (*UpgradePreview, error) {
	if !target.Valid() || target == types.PlanFree {
		return nil, fmt.Errorf("invalid upgrade target: %s", target)
	}
	_, sub, err := o.loadCurrent(ctx, userID)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, fmt.Errorf("no active subscription")
	}

	current := o.cfg.PlanForProductRef(stripegw.ProductRefOf(sub))
	if !target.AtLeast(current) || target == current {
		return nil, fmt.Errorf("plan %s is not an upgrade from %s", target, current)
	}

	item := stripegw.FirstItem(sub)
	if item == nil || item.Price == nil {
		return nil, fmt.Errorf("subscription has no priced line item")
	}

	priceRef, err := o.priceRefFor(ctx, target, interval)
	if err != nil {
		return nil, err
	}
	targetPrice, err := o.gw.GetPrice(ctx, priceRef)
	if err != nil {
		return nil, fmt.Errorf("failed to load target price %s: %w", priceRef, err)
	}

	now := o.now().UTC()
	periodStart := time.Unix(sub.CurrentPeriodStart, 0).UTC()
	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0).UTC()

	remainingDays := ceilDays(periodEnd.Sub(now))
	totalDays := ceilDays(periodEnd.Sub(periodStart))
	if totalDays <= 0 {
		totalDays = 1
	}
	if remainingDays < 0 {
		remainingDays = 0
	}

	credit := int64(math.Round(float64(item.Price.UnitAmount) * float64(remainingDays) / float64(totalDays)))
	dueNow := targetPrice.UnitAmount - credit
	if dueNow < 0 {
		dueNow = 0
	}

	return &UpgradePreview{
		CurrentPlan:         current,
		TargetPlan:          target,
		CurrentPriceAmount:  item.Price.UnitAmount,
		TargetPriceAmount:   targetPrice.UnitAmount,
		CreditAmount:        credit,
		DueNow:              dueNow,
		Currency:            string(targetPrice.Currency),
		CurrentPeriodEnd:    periodEnd,
		RemainingPeriodDays: remainingDays,
	}, nil
}

func ceilDays(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0
	}
	return (secs + 86399) / 86400
}
