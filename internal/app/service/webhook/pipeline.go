package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"
	"gorm.io/datatypes"

	"github.com/quizforge/billing/internal/app/service/profile"
	"github.com/quizforge/billing/internal/app/service/snapshot"
	"github.com/quizforge/billing/internal/models"
	"github.com/quizforge/billing/internal/platform/stripegw"
	"github.com/quizforge/billing/pkg/config"
	"github.com/quizforge/billing/pkg/logctx"
	"github.com/quizforge/billing/pkg/metrics"
	"github.com/quizforge/billing/pkg/tool"
	"github.com/quizforge/billing/pkg/types"
)

// EventRecorder persists the audit trail of received events.
type EventRecorder interface {
	Save(ctx context.Context, entry *models.BillingEventLog)
}

// Pipeline ingests provider events. The HTTP layer acks deliveries immediately
// and hands the verified event here on a detached context; the provider retries
// on non-2xx, so slow processing must never hold up the ack.
type Pipeline struct {
	cfg      *config.Config
	gw       stripegw.Gateway
	profiles profile.Store
	resolver *snapshot.Resolver
	events   EventRecorder
	log      *zap.SugaredLogger
	now      func() time.Time
}

func NewPipeline(cfg *config.Config, gw stripegw.Gateway, profiles profile.Store, resolver *snapshot.Resolver, events EventRecorder, log *zap.SugaredLogger) *Pipeline {
	return &Pipeline{cfg: cfg, gw: gw, profiles: profiles, resolver: resolver, events: events, log: log, now: time.Now}
}

// VerifyEvent authenticates a raw delivery against the endpoint secret.
func (p *Pipeline) VerifyEvent(payload []byte, sigHeader string) (stripe.Event, error) {
	return stripegw.VerifyEvent(payload, sigHeader, p.cfg.Stripe.WebhookSecret)
}

// Process handles one verified event. Every delivery leaves an audit row with
// its final outcome; processing errors are recorded there and returned, and the
// provider's retry plus TTL expiry cover anything that slips through.
func (p *Pipeline) Process(ctx context.Context, event stripe.Event) (err error) {
	start := p.now()
	entry := &models.BillingEventLog{
		ID:        tool.GenerateUUIDV7(),
		EventID:   event.ID,
		EventType: string(event.Type),
		EventTime: time.Unix(event.Created, 0).UTC(),
		Data:      datatypes.JSON(event.Data.Raw),
		Status:    models.BillingEventLogStatusReceived,
	}
	if tid, ok := ctx.Value("traceID").(string); ok {
		entry.TraceID = tid
	}
	defer func() {
		if err != nil {
			entry.Status = models.BillingEventLogStatusHandleFailed
			res := datatypes.JSON(fmt.Sprintf(`{"error":%q}`, err.Error()))
			entry.Result = &res
		} else {
			entry.Status = models.BillingEventLogStatusHandled
		}
		p.events.Save(ctx, entry)
		metrics.ObserveBusinessProcess("webhook", string(event.Type), start)
	}()

	switch string(event.Type) {
	case stripegw.EventSubscriptionCreated, stripegw.EventSubscriptionUpdated:
		var sub stripe.Subscription
		if uerr := json.Unmarshal(event.Data.Raw, &sub); uerr != nil {
			err = fmt.Errorf("failed to parse subscription payload: %w", uerr)
			return err
		}
		entry.CustomerRef = customerRefOf(&sub)
		err = p.reconcile(ctx, &sub)
		return err

	case stripegw.EventSubscriptionDeleted:
		var sub stripe.Subscription
		if uerr := json.Unmarshal(event.Data.Raw, &sub); uerr != nil {
			err = fmt.Errorf("failed to parse subscription payload: %w", uerr)
			return err
		}
		entry.CustomerRef = customerRefOf(&sub)
		err = p.handleDeleted(ctx, &sub)
		return err

	case stripegw.EventTrialWillEnd:
		logctx.FromCtx(ctx, p.log).Infow("trial ending soon", "event_id", event.ID)
		return nil

	default:
		logctx.FromCtx(ctx, p.log).Debugw("ignoring event", "event_type", event.Type, "event_id", event.ID)
		return nil
	}
}

func customerRefOf(sub *stripe.Subscription) *string {
	if sub == nil || sub.Customer == nil || sub.Customer.ID == "" {
		return nil
	}
	ref := sub.Customer.ID
	return &ref
}

// reconcile converges the local profile onto the event's subscription state.
// The provider is authoritative; the only local decisions are which plan the
// user is entitled to right now and whether a duplicate subscription needs to
// be retired.
func (p *Pipeline) reconcile(ctx context.Context, sub *stripe.Subscription) error {
	ref := customerRefOf(sub)
	if ref == nil {
		return fmt.Errorf("event subscription %s has no customer", sub.ID)
	}
	prof, err := p.profiles.GetByCustomerRef(ctx, *ref)
	if err != nil {
		return err
	}
	if prof == nil {
		logctx.FromCtx(ctx, p.log).Warnw("event for unknown customer", "customer_ref", *ref, "subscription", sub.ID)
		return nil
	}

	now := p.now().UTC()
	plan := p.entitledPlan(ctx, sub, now)

	// A second live subscription for the same customer means a mutation raced a
	// checkout. Keep the one the event describes and retire the stored one.
	if sub.Status == stripe.SubscriptionStatusActive &&
		prof.SubscriptionRef != nil && *prof.SubscriptionRef != "" && *prof.SubscriptionRef != sub.ID {
		old := *prof.SubscriptionRef
		if _, cerr := p.gw.CancelSubscription(ctx, old); cerr != nil {
			logctx.FromCtx(ctx, p.log).Errorw("failed to cancel duplicate subscription",
				"customer_ref", *ref, "old", old, "new", sub.ID, "error", cerr)
		} else {
			logctx.FromCtx(ctx, p.log).Infow("canceled duplicate subscription",
				"customer_ref", *ref, "old", old, "new", sub.ID)
		}
	}

	if err := p.profiles.SetSubscription(ctx, prof.UserID, &sub.ID, plan); err != nil {
		return err
	}
	p.resolver.Invalidate(ctx, prof.UserID)
	return nil
}

// entitledPlan resolves the plan the customer should hold given the
// subscription's status and any deferred downgrade riding on its metadata. A
// matured deferral is cleared on the provider best effort; until that clear
// lands the mapping stays correct because maturity is rechecked on every read.
func (p *Pipeline) entitledPlan(ctx context.Context, sub *stripe.Subscription, now time.Time) types.PlanID {
	switch sub.Status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing, stripe.SubscriptionStatusPastDue:
	default:
		return types.PlanFree
	}

	product := stripegw.ProductRefOf(sub)
	dc := stripegw.DeferredChangeFromMetadata(sub.Metadata)
	if dc == nil {
		return p.cfg.PlanForProductRef(product)
	}

	if dc.Matured(now) {
		params := &stripe.SubscriptionParams{}
		stripegw.ClearDeferredChange(params)
		if _, err := p.gw.UpdateSubscription(ctx, sub.ID, params); err != nil {
			logctx.FromCtx(ctx, p.log).Warnw("failed to clear matured deferred change",
				"subscription", sub.ID, "error", err)
		}
		return p.cfg.PlanForProductRef(product)
	}
	return p.cfg.PlanForProductRef(dc.PreviousPlanProduct)
}

// handleDeleted resets the profile to the free tier when the stored
// subscription is the one that ended. Deletions of already-replaced
// subscriptions only drop the cache.
func (p *Pipeline) handleDeleted(ctx context.Context, sub *stripe.Subscription) error {
	ref := customerRefOf(sub)
	if ref == nil {
		return fmt.Errorf("event subscription %s has no customer", sub.ID)
	}
	prof, err := p.profiles.GetByCustomerRef(ctx, *ref)
	if err != nil {
		return err
	}
	if prof == nil {
		return nil
	}

	if prof.SubscriptionRef == nil || *prof.SubscriptionRef == sub.ID {
		if err := p.profiles.SetSubscription(ctx, prof.UserID, nil, types.PlanFree); err != nil {
			return err
		}
	}
	p.resolver.Invalidate(ctx, prof.UserID)
	return nil
}
