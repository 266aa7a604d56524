package planchange

import (
	"context"
	"fmt"
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
	prices   map[string]*stripe.Price
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
	sub, ok := f.subs[id]
	if !ok {
		return nil, fmt.Errorf("no such subscription: %s", id)
	}
	return sub, nil
}

func (f *fakeGateway) CancelSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.canceled = append(f.canceled, id)
	return f.subs[id], nil
}

func (f *fakeGateway) GetPrice(_ context.Context, id string) (*stripe.Price, error) {
	price, ok := f.prices[id]
	if !ok {
		return nil, fmt.Errorf("no such price: %s", id)
	}
	return price, nil
}

func (f *fakeGateway) ListPricesByProduct(_ context.Context, productRef string) ([]*stripe.Price, error) {
	var out []*stripe.Price
	for _, p := range f.prices {
		if p.Product != nil && p.Product.ID == productRef {
			out = append(out, p)
		}
	}
	return out, nil
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

func testConfig() *config.Config {
	return &config.Config{PlanItems: []*types.PlanItem{
		{PlanID: types.PlanBasic, ProductRef: "prod_basic", MonthlyPriceRef: "price_basic_m", YearlyPriceRef: "price_basic_y"},
		{PlanID: types.PlanPlus, ProductRef: "prod_plus", MonthlyPriceRef: "price_plus_m", YearlyPriceRef: "price_plus_y"},
	}}
}

func testSub(id, customer, product, price string, amount int64, start, end time.Time) *stripe.Subscription {
	return &stripe.Subscription{
		ID:                 id,
		Customer:           &stripe.Customer{ID: customer},
		Status:             stripe.SubscriptionStatusActive,
		CurrentPeriodStart: start.Unix(),
		CurrentPeriodEnd:   end.Unix(),
		Items: &stripe.SubscriptionItemList{Data: []*stripe.SubscriptionItem{{
			ID: "si_" + id,
			Price: &stripe.Price{
				ID:         price,
				UnitAmount: amount,
				Currency:   stripe.CurrencyUSD,
				Product:    &stripe.Product{ID: product},
				Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
			},
		}}},
	}
}

type testEnv struct {
	orch     *Orchestrator
	gw       *fakeGateway
	profiles *fakeProfiles
	mem      *cache.Memory
	now      time.Time
}

func newTestEnv(t *testing.T, sub *stripe.Subscription, plan types.PlanID) *testEnv {
	t.Helper()
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	gw := &fakeGateway{
		subs: map[string]*stripe.Subscription{},
		prices: map[string]*stripe.Price{
			"price_plus_m": {
				ID:         "price_plus_m",
				Active:     true,
				UnitAmount: 5000,
				Currency:   stripe.CurrencyUSD,
				Product:    &stripe.Product{ID: "prod_plus"},
				Recurring:  &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
			},
		},
	}
	profiles := &fakeProfiles{byUser: map[string]*models.BillingProfile{}}
	if sub != nil {
		gw.subs[sub.ID] = sub
		ref := sub.ID
		profiles.byUser["u1"] = &models.BillingProfile{UserID: "u1", CustomerRef: sub.Customer.ID, SubscriptionRef: &ref, PlanID: plan}
	}
	mem := cache.NewMemory()
	resolver := snapshot.NewResolver(testConfig(), mem, gw, profiles, zap.NewNop().Sugar())
	orch := NewOrchestrator(testConfig(), gw, profiles, resolver, zap.NewNop().Sugar())
	orch.now = func() time.Time { return now }
	return &testEnv{orch: orch, gw: gw, profiles: profiles, mem: mem, now: now}
}

func seedCache(t *testing.T, env *testEnv) {
	t.Helper()
	require.NoError(t, env.mem.SetWithTTL(context.Background(), snapshot.CacheKey("u1"), []byte(`{}`), time.Hour))
}

func TestUpgradeTakesEffectImmediately(t *testing.T) {
	sub := testSub("sub_1", "cus_1", "prod_basic", "price_basic_m", 1000, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, 20))
	env := newTestEnv(t, sub, types.PlanBasic)
	seedCache(t, env)

	result := env.orch.Upgrade(context.Background(), "u1", types.PlanPlus, types.BillingIntervalMonth)
	require.True(t, result.Success, result.Message)
	require.NotNil(t, result.EffectiveDate)
	require.True(t, result.EffectiveDate.Equal(env.now))

	require.Len(t, env.gw.updates, 1)
	params := env.gw.updates[0]
	require.Equal(t, "always_invoice", *params.ProrationBehavior)
	require.True(t, *params.BillingCycleAnchorUnchanged)
	require.Len(t, params.Items, 1)
	require.Equal(t, "price_plus_m", *params.Items[0].Price)

	require.Equal(t, types.PlanPlus, env.profiles.byUser["u1"].PlanID)
	require.Equal(t, 0, env.mem.Len(), "upgrade must drop the cached snapshot")
}

func TestUpgradeRejectsLowerTier(t *testing.T) {
	sub := testSub("sub_1", "cus_1", "prod_plus", "price_plus_m", 3000, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, 20))
	env := newTestEnv(t, sub, types.PlanPlus)

	result := env.orch.Upgrade(context.Background(), "u1", types.PlanBasic, types.BillingIntervalMonth)
	require.False(t, result.Success)
	require.Empty(t, env.gw.updates)
}

func TestDowngradeDefersToPeriodEnd(t *testing.T) {
	periodEnd := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	sub := testSub("sub_1", "cus_1", "prod_plus", "price_plus_m", 3000, periodEnd.AddDate(0, 0, -30), periodEnd)
	env := newTestEnv(t, sub, types.PlanPlus)
	seedCache(t, env)

	result := env.orch.Downgrade(context.Background(), "u1", types.PlanBasic, types.BillingIntervalMonth, false)
	require.True(t, result.Success, result.Message)
	require.NotNil(t, result.EffectiveDate)
	require.True(t, result.EffectiveDate.Equal(periodEnd))

	require.Len(t, env.gw.updates, 1)
	params := env.gw.updates[0]
	require.Equal(t, "none", *params.ProrationBehavior)
	require.Equal(t, "price_basic_m", *params.Items[0].Price)
	require.Equal(t, "prod_plus", params.Metadata["previous_plan_product"])
	require.Equal(t, fmt.Sprintf("%d", periodEnd.Unix()), params.Metadata["previous_plan_expires_at"])
	require.Equal(t, "prod_basic", params.Metadata["scheduled_next_plan_product"])

	require.Equal(t, types.PlanPlus, env.profiles.byUser["u1"].PlanID, "entitlement holds until period end")
	require.Equal(t, 0, env.mem.Len())
}

func TestDowngradeImmediate(t *testing.T) {
	sub := testSub("sub_1", "cus_1", "prod_plus", "price_plus_m", 3000, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, 20))
	env := newTestEnv(t, sub, types.PlanPlus)

	result := env.orch.Downgrade(context.Background(), "u1", types.PlanBasic, types.BillingIntervalMonth, true)
	require.True(t, result.Success, result.Message)
	require.True(t, result.EffectiveDate.Equal(env.now))

	params := env.gw.updates[0]
	require.Equal(t, "create_prorations", *params.ProrationBehavior)
	require.Equal(t, types.PlanBasic, env.profiles.byUser["u1"].PlanID)
}

func TestCancelSchedulesAtPeriodEnd(t *testing.T) {
	periodEnd := time.Date(2026, 2, 20, 0, 0, 0, 0, time.UTC)
	sub := testSub("sub_1", "cus_1", "prod_plus", "price_plus_m", 3000, periodEnd.AddDate(0, 0, -30), periodEnd)
	env := newTestEnv(t, sub, types.PlanPlus)
	seedCache(t, env)

	result := env.orch.Cancel(context.Background(), "u1")
	require.True(t, result.Success, result.Message)
	require.True(t, result.EffectiveDate.Equal(periodEnd))

	require.Len(t, env.gw.updates, 1)
	require.True(t, *env.gw.updates[0].CancelAtPeriodEnd)

	require.Equal(t, types.PlanPlus, env.profiles.byUser["u1"].PlanID, "plan holds until the provider confirms")
	require.Equal(t, 0, env.mem.Len())
}

func TestCancelWithoutSubscription(t *testing.T) {
	env := newTestEnv(t, nil, types.PlanFree)

	result := env.orch.Cancel(context.Background(), "u1")
	require.False(t, result.Success)
	require.Empty(t, env.gw.updates)
}

func TestReactivateClearsPendingCancellation(t *testing.T) {
	sub := testSub("sub_1", "cus_1", "prod_plus", "price_plus_m", 3000, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, 20))
	sub.CancelAtPeriodEnd = true
	env := newTestEnv(t, sub, types.PlanPlus)

	result := env.orch.Reactivate(context.Background(), "u1")
	require.True(t, result.Success, result.Message)
	require.Len(t, env.gw.updates, 1)
	require.False(t, *env.gw.updates[0].CancelAtPeriodEnd)
}

func TestReactivateWithoutPendingCancellation(t *testing.T) {
	sub := testSub("sub_1", "cus_1", "prod_plus", "price_plus_m", 3000, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, 20))
	env := newTestEnv(t, sub, types.PlanPlus)

	result := env.orch.Reactivate(context.Background(), "u1")
	require.False(t, result.Success)
	require.Empty(t, env.gw.updates)
}

func TestUpgradeLooksUpLivePriceWhenCatalogIncomplete(t *testing.T) {
	sub := testSub("sub_1", "cus_1", "prod_basic", "price_basic_m", 1000, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, 20))
	env := newTestEnv(t, sub, types.PlanBasic)
	env.orch.cfg.GetPlanItemByPlanID(types.PlanPlus).MonthlyPriceRef = ""

	result := env.orch.Upgrade(context.Background(), "u1", types.PlanPlus, types.BillingIntervalMonth)
	require.True(t, result.Success, result.Message)

	require.Len(t, env.gw.updates, 1)
	require.Equal(t, "price_plus_m", *env.gw.updates[0].Items[0].Price, "price discovered from the product's live price list")
}

func TestPreviewUpgradeProration(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	sub := testSub("sub_1", "cus_1", "prod_basic", "price_basic_m", 3000, now.AddDate(0, 0, -10), now.AddDate(0, 0, 20))
	env := newTestEnv(t, sub, types.PlanBasic)

	preview, err := env.orch.PreviewUpgrade(context.Background(), "u1", types.PlanPlus, types.BillingIntervalMonth)
	require.NoError(t, err)

	// 20 of 30 days remain on a 3000 plan: credit 2000, net 3000 on the 5000 target.
	require.Equal(t, int64(20), preview.RemainingPeriodDays)
	require.Equal(t, int64(2000), preview.CreditAmount)
	require.Equal(t, int64(5000), preview.TargetPriceAmount)
	require.Equal(t, int64(3000), preview.DueNow)
	require.Equal(t, types.PlanBasic, preview.CurrentPlan)
	require.Equal(t, types.PlanPlus, preview.TargetPlan)
}
