package stripegw

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
)

func TestDeferredChangeRoundTrip(t *testing.T) {
	expires := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dc := &DeferredChange{
		PreviousPlanProduct:      "prod_plus",
		PreviousPlanExpiresAt:    expires,
		ScheduledNextPlanProduct: "prod_basic",
	}

	params := &stripe.SubscriptionParams{}
	ApplyDeferredChange(params, dc)

	got := DeferredChangeFromMetadata(params.Metadata)
	require.NotNil(t, got)
	require.Equal(t, "prod_plus", got.PreviousPlanProduct)
	require.Equal(t, "prod_basic", got.ScheduledNextPlanProduct)
	require.True(t, got.PreviousPlanExpiresAt.Equal(expires))
}

func TestDeferredChangeFromMetadataAbsent(t *testing.T) {
	require.Nil(t, DeferredChangeFromMetadata(nil))
	require.Nil(t, DeferredChangeFromMetadata(map[string]string{}))
	require.Nil(t, DeferredChangeFromMetadata(map[string]string{
		MetaPreviousPlanProduct:   "prod_plus",
		MetaPreviousPlanExpiresAt: "not-a-number",
	}))
}

func TestDeferredChangeMatured(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dc := &DeferredChange{PreviousPlanExpiresAt: now.Add(time.Hour)}
	require.False(t, dc.Matured(now))
	require.True(t, dc.Matured(now.Add(time.Hour)))
	require.True(t, dc.Matured(now.Add(2*time.Hour)))

	var none *DeferredChange
	require.False(t, none.Matured(now))
}

func TestClearDeferredChange(t *testing.T) {
	params := &stripe.SubscriptionParams{}
	ClearDeferredChange(params)
	require.Equal(t, "", params.Metadata[MetaPreviousPlanProduct])
	require.Equal(t, "", params.Metadata[MetaPreviousPlanExpiresAt])
	require.Equal(t, "", params.Metadata[MetaScheduledNextPlanProduct])
}
