package stock

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSweeper_RunOnce_ReleasesExpired(t *testing.T) {
	s := NewMemStore(10 * time.Minute)
	s.SeedUnit(ProductRef(1), "Walnut Desk", 5)
	s.SeedUnit(VariantRef(7), "Walnut Desk / Oak", 4)

	base := time.Now()
	s.Now = func() time.Time { return base }

	_, err := s.Lock(context.Background(), []LockItem{
		{Ref: ProductRef(1), Quantity: 2},
		{Ref: VariantRef(7), Quantity: 1},
	})
	require.NoError(t, err)

	sweeper := NewSweeper(s, time.Minute, zerolog.Nop())
	sweeper.Now = func() time.Time { return base.Add(11 * time.Minute) }

	report, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Stats.ProductsUnlocked)
	assert.Equal(t, 1, report.Stats.VariantsUnlocked)
	assert.Equal(t, 3, report.Stats.TotalQuantityReleased)
	assert.Empty(t, report.Stats.Errors)

	// Duration comes off the same clock as StartedAt: a pinned fake clock
	// must report zero, never a negative interval.
	assert.Equal(t, "0s", report.Duration)

	snap, err := s.GetUnit(context.Background(), ProductRef(1))
	require.NoError(t, err)
	assert.Equal(t, 0, snap.LockedQuantity)
}

func TestSweeper_Status(t *testing.T) {
	s := NewMemStore(10 * time.Minute)
	sweeper := NewSweeper(s, time.Minute, zerolog.Nop())

	status := sweeper.Status()
	assert.False(t, status.Enabled)
	assert.False(t, status.Running)
	assert.Nil(t, status.LastRun)
	assert.Equal(t, 0, status.TotalRuns)

	_, err := sweeper.RunOnce(context.Background())
	require.NoError(t, err)

	status = sweeper.Status()
	require.NotNil(t, status.LastRun)
	assert.Equal(t, 1, status.TotalRuns)
}

func TestSweeper_StartStop(t *testing.T) {
	s := NewMemStore(10 * time.Minute)
	sweeper := NewSweeper(s, time.Hour, zerolog.Nop())

	sweeper.Start()
	assert.True(t, sweeper.Status().Enabled)

	// Double Start is a no-op, and Stop waits the loop out.
	sweeper.Start()
	sweeper.Stop()
	assert.False(t, sweeper.Status().Enabled)

	// Stop after Stop is also a no-op.
	sweeper.Stop()
}
