package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"go.uber.org/zap"

	"github.com/quizforge/billing/internal/app/service/snapshot"
	"github.com/quizforge/billing/internal/models"
	"github.com/quizforge/billing/internal/platform/cache"
	"github.com/quizforge/billing/pkg/config"
	"github.com/quizforge/billing/pkg/types"
)

type fakeGateway struct {
	subs     map[string]*stripe.Subscription
	updates  []*stripe.SubscriptionParams
	canceled []string
}

func (f *fakeGateway) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeGateway) ListSubscriptionsByCustomer(_ context.Context, _ string, _ stripe.SubscriptionStatus) ([]*stripe.Subscription, error) {
	return nil, nil
}

func (f *fakeGateway) UpdateSubscription(_ context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	f.updates = append(f.updates, params)
	return f.subs[id], nil
}

func (f *fakeGateway) CancelSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.canceled = append(f.canceled, id)
	return f.subs[id], nil
}

func (f *fakeGateway) GetPrice(_ context.Context, _ string) (*stripe.Price, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeGateway) ListPricesByProduct(_ context.Context, _ string) ([]*stripe.Price, error) {
	return nil, nil
}

type fakeProfiles struct {
	byUser map[string]*models.BillingProfile
}

func (f *fakeProfiles) GetByUserID(_ context.Context, userID string) (*models.BillingProfile, error) {
	return f.byUser[userID], nil
}

func (f *fakeProfiles) GetByCustomerRef(_ context.Context, customerRef string) (*models.BillingProfile, error) {
	for _, p := range f.byUser {
		if p.CustomerRef == customerRef {
			return p, nil
		}
	}
	return nil, nil
}

func (f *fakeProfiles) SetSubscription(_ context.Context, userID string, subscriptionRef *string, plan types.PlanID) error {
	p, ok := f.byUser[userID]
	if !ok {
		p = &models.BillingProfile{UserID: userID}
		f.byUser[userID] = p
	}
	p.SubscriptionRef = subscriptionRef
	p.PlanID = plan
	return nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []*models.BillingEventLog
}

func (f *fakeRecorder) Save(_ context.Context, entry *models.BillingEventLog) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry)
}

func testConfig() *config.Config {
	return &config.Config{PlanItems: []*types.PlanItem{
		{PlanID: types.PlanBasic, ProductRef: "prod_basic", MonthlyPriceRef: "price_basic_m"},
		{PlanID: types.PlanPlus, ProductRef: "prod_plus", MonthlyPriceRef: "price_plus_m"},
	}}
}

func testSub(id, customer, product string, status stripe.SubscriptionStatus, end time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:               id,
		Customer:         &stripe.Customer{ID: customer},
		Status:           status,
		CurrentPeriodEnd: end.Unix(),
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID: "si_" + id,
			Price: &stripe.Price{
				ID:        "price_x",
				Product:   &stripe.Product{ID: product},
				Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
			},
		}}},
	}
}

type testEnv struct {
	pipeline *Pipeline
	gw       *fakeGateway
	profiles *fakeProfiles
	recorder *fakeRecorder
	mem      *cache.Memory
	now      time.Time
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{subs: map[string]*stripe.Subscription{}}
	profiles := &fakeProfiles{byUser: map[string]*models.BillingProfile{}}
	recorder := &fakeRecorder{}
	mem := cache.NewMemory()
	resolver := snapshot.NewResolver(testConfig(), mem, gw, profiles, zap.NewNop().Sugar())
	p := NewPipeline(testConfig(), gw, profiles, resolver, recorder, zap.NewNop().Sugar())
	p.now = func() time.Time { return now }
	return &testEnv{pipeline: p, gw: gw, profiles: profiles, recorder: recorder, mem: mem, now: now}
}

func (env *testEnv) withProfile(userID, customerRef, subRef string, plan types.PlanID) {
	p := &models.BillingProfile{UserID: userID, CustomerRef: customerRef, PlanID: plan}
	if subRef != "" {
		p.SubscriptionRef = &subRef
	}
	env.profiles.byUser[userID] = p
}

func TestReconcileKeepsPreviousPlanWhileDeferred(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_1", types.PlanPlus)

	sub := testSub("sub_1", "cus_1", "prod_basic", stripe.SubscriptionStatusActive, env.now.AddDate(0, 0, 5))
	sub.Metadata = map[string]string{
		"previous_plan_product":       "prod_plus",
		"previous_plan_expires_at":    fmt.Sprintf("%d", env.now.AddDate(0, 0, 5).Unix()),
		"scheduled_next_plan_product": "prod_basic",
	}
	env.gw.subs["sub_1"] = sub

	require.NoError(t, env.pipeline.reconcile(context.Background(), sub))
	require.Equal(t, types.PlanPlus, env.profiles.byUser["u1"].PlanID)
	require.Empty(t, env.gw.updates, "unmatured deferral must not be cleared")
}

func TestReconcileAppliesMaturedDeferral(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_1", types.PlanPlus)

	sub := testSub("sub_1", "cus_1", "prod_basic", stripe.SubscriptionStatusActive, env.now.AddDate(0, 0, 25))
	sub.Metadata = map[string]string{
		"previous_plan_product":       "prod_plus",
		"previous_plan_expires_at":    fmt.Sprintf("%d", env.now.AddDate(0, 0, -1).Unix()),
		"scheduled_next_plan_product": "prod_basic",
	}
	env.gw.subs["sub_1"] = sub

	require.NoError(t, env.pipeline.reconcile(context.Background(), sub))
	require.Equal(t, types.PlanBasic, env.profiles.byUser["u1"].PlanID)

	require.Len(t, env.gw.updates, 1, "matured deferral metadata is cleared")
	require.Equal(t, "", env.gw.updates[0].Metadata["previous_plan_product"])
}

func TestReconcileRetiresDuplicateSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_A", types.PlanBasic)

	subB := testSub("sub_B", "cus_1", "prod_plus", stripe.SubscriptionStatusActive, env.now.AddDate(0, 0, 30))
	env.gw.subs["sub_A"] = testSub("sub_A", "cus_1", "prod_basic", stripe.SubscriptionStatusActive, env.now.AddDate(0, 0, 10))
	env.gw.subs["sub_B"] = subB

	require.NoError(t, env.pipeline.reconcile(context.Background(), subB))
	require.Equal(t, []string{"sub_A"}, env.gw.canceled)
	require.Equal(t, "sub_B", *env.profiles.byUser["u1"].SubscriptionRef)
	require.Equal(t, types.PlanPlus, env.profiles.byUser["u1"].PlanID)

	// Reprocessing the same event converges without another cancellation.
	require.NoError(t, env.pipeline.reconcile(context.Background(), subB))
	require.Equal(t, []string{"sub_A"}, env.gw.canceled)
	require.Equal(t, "sub_B", *env.profiles.byUser["u1"].SubscriptionRef)
}

func TestReconcileInactiveStatusDropsToFree(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_1", types.PlanPlus)

	sub := testSub("sub_1", "cus_1", "prod_plus", stripe.SubscriptionStatusUnpaid, env.now.AddDate(0, 0, 10))
	env.gw.subs["sub_1"] = sub

	require.NoError(t, env.pipeline.reconcile(context.Background(), sub))
	require.Equal(t, types.PlanFree, env.profiles.byUser["u1"].PlanID)
}

func TestReconcileUnknownCustomer(t *testing.T) {
	env := newTestEnv(t)
	sub := testSub("sub_1", "cus_unknown", "prod_plus", stripe.SubscriptionStatusActive, env.now.AddDate(0, 0, 10))
	require.NoError(t, env.pipeline.reconcile(context.Background(), sub))
	require.Empty(t, env.profiles.byUser)
}

func TestHandleDeletedResetsProfile(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_1", types.PlanPlus)
	require.NoError(t, env.mem.SetWithTTL(context.Background(), snapshot.CacheKey("u1"), []byte(`{}`), time.Hour))

	sub := testSub("sub_1", "cus_1", "prod_plus", stripe.SubscriptionStatusCanceled, env.now)
	require.NoError(t, env.pipeline.handleDeleted(context.Background(), sub))

	p := env.profiles.byUser["u1"]
	require.Equal(t, types.PlanFree, p.PlanID)
	require.Nil(t, p.SubscriptionRef)
	require.Equal(t, 0, env.mem.Len())
}

func TestHandleDeletedIgnoresReplacedSubscription(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_B", types.PlanPlus)

	sub := testSub("sub_A", "cus_1", "prod_plus", stripe.SubscriptionStatusCanceled, env.now)
	require.NoError(t, env.pipeline.handleDeleted(context.Background(), sub))

	p := env.profiles.byUser["u1"]
	require.Equal(t, types.PlanPlus, p.PlanID)
	require.Equal(t, "sub_B", *p.SubscriptionRef)
}

func TestProcessRecordsOutcome(t *testing.T) {
	env := newTestEnv(t)
	env.withProfile("u1", "cus_1", "sub_1", types.PlanBasic)

	sub := testSub("sub_1", "cus_1", "prod_plus", stripe.SubscriptionStatusActive, env.now.AddDate(0, 0, 30))
	env.gw.subs["sub_1"] = sub
	raw, err := json.Marshal(sub)
	require.NoError(t, err)

	event := stripe.Event{
		ID:      "evt_1",
		Type:    "customer.subscription.updated",
		Created: env.now.Unix(),
		Data:    &stripe.EventData{Raw: raw},
	}
	require.NoError(t, env.pipeline.Process(context.Background(), event))

	require.Len(t, env.recorder.entries, 1)
	entry := env.recorder.entries[0]
	require.Equal(t, "evt_1", entry.EventID)
	require.Equal(t, models.BillingEventLogStatusHandled, entry.Status)
	require.NotNil(t, entry.CustomerRef)
	require.Equal(t, "cus_1", *entry.CustomerRef)

	require.Equal(t, types.PlanPlus, env.profiles.byUser["u1"].PlanID)
}

func TestProcessRecordsFailure(t *testing.T) {
	env := newTestEnv(t)

	event := stripe.Event{
		ID:      "evt_2",
		Type:    "customer.subscription.updated",
		Created: env.now.Unix(),
		Data:    &stripe.EventData{Raw: json.RawMessage(`{"id":"sub_1"}`)},
	}
	require.Error(t, env.pipeline.Process(context.Background(), event))

	require.Len(t, env.recorder.entries, 1)
	require.Equal(t, models.BillingEventLogStatusHandleFailed, env.recorder.entries[0].Status)
}
