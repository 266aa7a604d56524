package stripegw

import (
	"context"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/quizforge/billing/pkg/config"
)

// Client implements Gateway over the Stripe SDK. One configured client per
// process, injected wherever the gateway is needed.
type Client struct {
	api *client.API
	log *zap.SugaredLogger
}

func NewClient(cfg *cfgpkg.Config, log *zap.SugaredLogger) *Client {
	api := client.New(cfg.Stripe.SecretKey, nil)
	return &Client{api: api, log: log}
}

func (c *Client) GetSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	params.AddExpand("items.data.price.product")
	return c.api.Subscriptions.Get(id, params)
}

func (c *Client) ListSubscriptionsByCustomer(ctx context.Context, customerRef string, status stripe.SubscriptionStatus) ([]*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerRef),
		Status:   stripe.String(string(status)),
	}
	params.Context = ctx
	params.AddExpand("data.items.data.price.product")

	var subs []*stripe.Subscription
	iter := c.api.Subscriptions.List(params)
	for iter.Next() {
		subs = append(subs, iter.Subscription())
	}
	return subs, iter.Err()
}

func (c *Client) UpdateSubscription(ctx context.Context, id string, params *stripe.SubscriptionParams) (*stripe.Subscription, error) {
	if params == nil {
		params = &stripe.SubscriptionParams{}
	}
	params.Context = ctx
	params.AddExpand("items.data.price.product")
	return c.api.Subscriptions.Update(id, params)
}

func (c *Client) CancelSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionCancelParams{}
	params.Context = ctx
	return c.api.Subscriptions.Cancel(id, params)
}

func (c *Client) GetPrice(ctx context.Context, id string) (*stripe.Price, error) {
	params := &stripe.PriceParams{}
	params.Context = ctx
	return c.api.Prices.Get(id, params)
}

func (c *Client) ListPricesByProduct(ctx context.Context, productRef string) ([]*stripe.Price, error) {
	params := &stripe.PriceListParams{Product: stripe.String(productRef)}
	params.Context = ctx

	var prices []*stripe.Price
	iter := c.api.Prices.List(params)
	for iter.Next() {
		prices = append(prices, iter.Price())
	}
	return prices, iter.Err()
}

var Module = fx.Options(
	fx.Provide(NewClient),
	fx.Provide(func(c *Client) Gateway { return c }),
)
