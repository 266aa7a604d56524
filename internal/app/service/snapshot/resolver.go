package snapshot

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"

	"github.com/quizforge/billing/internal/app/service/profile"
	"github.com/quizforge/billing/internal/models"
	"github.com/quizforge/billing/internal/platform/cache"
	"github.com/quizforge/billing/internal/platform/stripegw"
	"github.com/quizforge/billing/pkg/config"
	"github.com/quizforge/billing/pkg/logctx"
	"github.com/quizforge/billing/pkg/types"
)

const cacheKeyPrefix = "billing:snapshot:"

func CacheKey(userID string) string {
	return cacheKeyPrefix + userID
}

// MatchCustomer builds a value predicate selecting cached snapshots that belong
// to the given customer ref.
func MatchCustomer(customerRef string) func([]byte) bool {
	return func(value []byte) bool {
		var snap types.SubscriptionSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			return false
		}
		return snap.CustomerID == customerRef
	}
}

// Resolver serves the authoritative read path: cache first, then the local
// profile store, then the billing gateway. Whatever it fetches it caches, so
// the next read within the TTL costs nothing.
type Resolver struct {
	cfg      *config.Config
	cache    cache.Store
	gw       stripegw.Gateway
	profiles profile.Store
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewResolver(cfg *config.Config, store cache.Store, gw stripegw.Gateway, profiles profile.Store, log *zap.SugaredLogger) *Resolver {
	return &Resolver{cfg: cfg, cache: store, gw: gw, profiles: profiles, log: log, now: time.Now}
}

// Resolve returns the user's subscription snapshot. A gateway failure degrades
// to an uncached free-tier snapshot rather than an error, so callers always get
// an answer; the next read retries the gateway.
func (r *Resolver) Resolve(ctx context.Context, userID string) (*types.SubscriptionSnapshot, error) {
	if userID == "" {
		return nil, fmt.Errorf("empty user id")
	}

	if raw, err := r.cache.Get(ctx, CacheKey(userID)); err == nil {
		var snap types.SubscriptionSnapshot
		if err := json.Unmarshal(raw, &snap); err == nil {
			return &snap, nil
		}
		// Corrupted entry; drop it and fall through to a fresh resolve.
		_ = r.cache.Delete(ctx, CacheKey(userID))
	}

	p, err := r.profiles.GetByUserID(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := r.now().UTC()
	if p == nil {
		snap := r.emptySnapshot(nil, now)
		r.store(ctx, userID, snap)
		return snap, nil
	}

	// No stored subscription ref: the profile may still have a live
	// subscription, for example one created through a checkout whose webhook
	// has not landed yet. Discover it by customer before concluding "none".
	if p.SubscriptionRef == nil || *p.SubscriptionRef == "" {
		if p.CustomerRef == "" {
			snap := r.emptySnapshot(p, now)
			r.store(ctx, userID, snap)
			return snap, nil
		}
		subs, err := r.gw.ListSubscriptionsByCustomer(ctx, p.CustomerRef, stripe.SubscriptionStatusActive)
		if err != nil {
			logctx.FromCtx(ctx, r.log).Warnf("gateway list failed for customer %s, serving free tier: %v", p.CustomerRef, err)
			return r.emptySnapshot(p, now), nil
		}
		if len(subs) == 0 {
			snap := r.emptySnapshot(p, now)
			r.store(ctx, userID, snap)
			return snap, nil
		}
		snap := r.FromSubscription(subs[0], now)
		r.store(ctx, userID, snap)
		return snap, nil
	}

	sub, err := r.gw.GetSubscription(ctx, *p.SubscriptionRef)
	if err != nil {
		logctx.FromCtx(ctx, r.log).Warnf("gateway read failed for subscription %s, serving free tier: %v", *p.SubscriptionRef, err)
		snap := r.emptySnapshot(p, now)
		return snap, nil
	}

	snap := r.FromSubscription(sub, now)
	r.store(ctx, userID, snap)
	return snap, nil
}

// Invalidate drops the user's cached snapshot. Best effort; a failed delete
// only extends staleness until the TTL runs out.
func (r *Resolver) Invalidate(ctx context.Context, userID string) {
	if err := r.cache.Delete(ctx, CacheKey(userID)); err != nil {
		logctx.FromCtx(ctx, r.log).Warnf("failed to invalidate snapshot for user %s: %v", userID, err)
	}
}

// InvalidateByCustomer drops every cached snapshot owned by the customer ref.
// Webhooks carry the provider's customer id, not our user id, so this scans by
// value instead of by key.
func (r *Resolver) InvalidateByCustomer(ctx context.Context, customerRef string) {
	if customerRef == "" {
		return
	}
	if err := r.cache.DeleteByPredicate(ctx, cacheKeyPrefix, MatchCustomer(customerRef)); err != nil {
		logctx.FromCtx(ctx, r.log).Warnf("failed to invalidate snapshots for customer %s: %v", customerRef, err)
	}
}

func (r *Resolver) store(ctx context.Context, userID string, snap *types.SubscriptionSnapshot) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return
	}
	if err := r.cache.SetWithTTL(ctx, CacheKey(userID), raw, TTLFor(snap, snap.CachedAt)); err != nil {
		logctx.FromCtx(ctx, r.log).Warnf("failed to cache snapshot for user %s: %v", userID, err)
	}
}

func (r *Resolver) emptySnapshot(p *models.BillingProfile, now time.Time) *types.SubscriptionSnapshot {
	snap := &types.SubscriptionSnapshot{
		Status:      types.SubscriptionStatusNone,
		PlanID:      types.PlanFree,
		RenewalKind: types.RenewalKindNone,
		CachedAt:    now,
	}
	if p != nil {
		snap.CustomerID = p.CustomerRef
	}
	return snap
}

// FromSubscription maps a gateway subscription into the local snapshot shape.
// While a deferred downgrade has not matured, the user is still entitled to the
// previous plan even though the line item already points at the next one; the
// metadata is honored here read-only and cleared elsewhere.
func (r *Resolver) FromSubscription(sub *stripe.Subscription, now time.Time) *types.SubscriptionSnapshot {
	productRef := stripegw.ProductRefOf(sub)
	priceRef := stripegw.PriceRefOf(sub)

	snap := &types.SubscriptionSnapshot{
		SubscriptionID:    &sub.ID,
		Status:            types.SubscriptionStatus(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CachedAt:          now,
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}
	if productRef != "" {
		snap.ProductRef = &productRef
	}
	if priceRef != "" {
		snap.PriceRef = &priceRef
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		snap.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		snap.CurrentPeriodEnd = &t
	}

	effectiveProduct := productRef
	if dc := stripegw.DeferredChangeFromMetadata(sub.Metadata); dc != nil && !dc.Matured(now) {
		effectiveProduct = dc.PreviousPlanProduct
		next := r.cfg.PlanForProductRef(dc.ScheduledNextPlanProduct)
		snap.ScheduledNextPlan = &next
	}
	snap.PlanID = r.cfg.PlanForProductRef(effectiveProduct)

	snap.RenewalKind = r.renewalKind(sub)
	return snap
}

func (r *Resolver) renewalKind(sub *stripe.Subscription) types.RenewalKind {
	switch {
	case sub.Status == stripe.SubscriptionStatusTrialing:
		return types.RenewalKindTrial
	case sub.CancelAtPeriodEnd || sub.Status == stripe.SubscriptionStatusCanceled:
		return types.RenewalKindCanceled
	}
	item := stripegw.FirstItem(sub)
	if item == nil || item.Price == nil {
		return types.RenewalKindNone
	}
	if stripegw.IntervalOf(item.Price) == types.BillingIntervalYear {
		return types.RenewalKindYearly
	}
	return types.RenewalKindMonthly
}
