package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryExpiry(t *testing.T) {
	m := NewMemory()
	now := time.Now()
	m.SetClock(func() time.Time { return now })

	ctx := context.Background()
	require.NoError(t, m.SetWithTTL(ctx, "k", []byte("v"), time.Hour))

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	now = now.Add(2 * time.Hour)
	_, err = m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
	require.Equal(t, 0, m.Len())
}

func TestMemoryDeleteIdempotent(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Delete(ctx, "absent"))

	require.NoError(t, m.SetWithTTL(ctx, "k", []byte("v"), time.Hour))
	require.NoError(t, m.Delete(ctx, "k"))
	require.NoError(t, m.Delete(ctx, "k"))

	_, err := m.Get(ctx, "k")
	require.ErrorIs(t, err, ErrMiss)
}

func TestMemoryDeleteByPredicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.SetWithTTL(ctx, "billing:snapshot:u1", []byte(`{"customer_id":"cus_a"}`), time.Hour))
	require.NoError(t, m.SetWithTTL(ctx, "billing:snapshot:u2", []byte(`{"customer_id":"cus_b"}`), time.Hour))
	require.NoError(t, m.SetWithTTL(ctx, "other:u3", []byte(`{"customer_id":"cus_a"}`), time.Hour))

	err := m.DeleteByPredicate(ctx, "billing:snapshot:", func(value []byte) bool {
		return string(value) == `{"customer_id":"cus_a"}`
	})
	require.NoError(t, err)

	_, err = m.Get(ctx, "billing:snapshot:u1")
	require.ErrorIs(t, err, ErrMiss)

	_, err = m.Get(ctx, "billing:snapshot:u2")
	require.NoError(t, err)

	// Keys outside the prefix are untouched even when the value matches.
	_, err = m.Get(ctx, "other:u3")
	require.NoError(t, err)
}
