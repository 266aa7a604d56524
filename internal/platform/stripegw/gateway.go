package stripegw

import (
	"context"

	"github.com/stripe/stripe-go/v74"

	"github.com/quizforge/billing/pkg/types"
)

// Gateway is the narrow slice of the billing provider's API this engine
// consumes. The provider is the source of truth; this subsystem never invents
// its own ids for gateway entities.
type Gateway interface {
	// GetSubscription fetches a subscription with items.data.price.product expanded.
	GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	ListSubscriptionsByCustomer(ctx context.Context, customerRef string, status stripe.SubscriptionStatus) ([]*stripe.Subscription, error)
	UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error)
	// CancelSubscription cancels immediately. Deferred cancellation goes through
	// UpdateSubscription with cancel_at_period_end.
	CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error)
	GetPrice(ctx context.Context, id string) (*stripe.Price, error)
	ListPricesByProduct(ctx context.Context, productRef string) ([]*stripe.Price, error)
}

// FirstItem returns the subscription's single line item. Subscriptions managed
// by this engine always carry exactly one.
func FirstItem(sub *stripe.Subscription) *stripe.SubscriptionItem {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil
	}
	return sub.Items.Data[0]
}

func ProductRefOf(sub *stripe.Subscription) string {
	item := FirstItem(sub)
	if item == nil || item.Price == nil || item.Price.Product == nil {
		return ""
	}
	return item.Price.Product.ID
}

func PriceRefOf(sub *stripe.Subscription) string {
	item := FirstItem(sub)
	if item == nil || item.Price == nil {
		return ""
	}
	return item.Price.ID
}

func IntervalOf(price *stripe.Price) types.BillingInterval {
	if price != nil && price.Recurring != nil && price.Recurring.Interval == stripe.PriceRecurringIntervalYear {
		return types.BillingIntervalYear
	}
	return types.BillingIntervalMonth
}
