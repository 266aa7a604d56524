package snapshot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quizforge/billing/pkg/types"
)

func snapWithPeriodEnd(now time.Time, until time.Duration) *types.SubscriptionSnapshot {
	end := now.Add(until)
	return &types.SubscriptionSnapshot{
		Status:           types.SubscriptionStatusActive,
		RenewalKind:      types.RenewalKindMonthly,
		CurrentPeriodEnd: &end,
	}
}

func TestTTLFor(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		snap *types.SubscriptionSnapshot
		want time.Duration
	}{
		{"nil snapshot", nil, 24 * time.Hour},
		{"no subscription", &types.SubscriptionSnapshot{Status: types.SubscriptionStatusNone, RenewalKind: types.RenewalKindNone}, 24 * time.Hour},
		{"canceled", &types.SubscriptionSnapshot{Status: types.SubscriptionStatusCanceled, RenewalKind: types.RenewalKindCanceled}, time.Hour},
		{"trialing", &types.SubscriptionSnapshot{Status: types.SubscriptionStatusTrialing, RenewalKind: types.RenewalKindTrial}, time.Hour},
		{"pending cancellation still active", pendingCancelSnap(now), time.Hour},
		{"active without period end", &types.SubscriptionSnapshot{Status: types.SubscriptionStatusActive, RenewalKind: types.RenewalKindMonthly}, 24 * time.Hour},
		{"renewal far out", snapWithPeriodEnd(now, 10*24*time.Hour), 24 * time.Hour},
		{"renewal within a week", snapWithPeriodEnd(now, 5*24*time.Hour), 6 * time.Hour},
		{"renewal within three days", snapWithPeriodEnd(now, 2*24*time.Hour), time.Hour},
		{"renewal within a day", snapWithPeriodEnd(now, 10*time.Hour), 15 * time.Minute},
		{"renewal already past", snapWithPeriodEnd(now, -time.Hour), 15 * time.Minute},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, TTLFor(tc.snap, now))
		})
	}
}

// A subscription scheduled to cancel at period end keeps status active but must
// not earn the long TTL of a stable one.
func pendingCancelSnap(now time.Time) *types.SubscriptionSnapshot {
	end := now.Add(10 * 24 * time.Hour)
	return &types.SubscriptionSnapshot{
		Status:            types.SubscriptionStatusActive,
		RenewalKind:       types.RenewalKindCanceled,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  &end,
	}
}

func TestTTLShrinksTowardRenewal(t *testing.T) {
	now := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	prev := 24 * time.Hour
	for until := 14 * 24 * time.Hour; until > 0; until -= 6 * time.Hour {
		ttl := TTLFor(snapWithPeriodEnd(now, until), now)
		require.LessOrEqual(t, ttl, prev, "ttl grew as renewal approached (until=%s)", until)
		prev = ttl
	}
}
