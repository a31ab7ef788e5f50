package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/boardflow/internal/ir"
)

func createTestRecurring(id string, next time.Time) ir.RecurringConfig {
	return ir.RecurringConfig{
		ID:             id,
		BoardID:        "b1",
		TemplateCardID: "tmpl",
		CronExpression: "0 9 * * MON",
		NextRunAt:      next,
		Enabled:        true,
		CreatedAt:      testNow,
	}
}

func TestCreateRecurring_RoundTrip(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestRecurring("rc1", testNow.Add(time.Hour))

	require.NoError(t, s.CreateRecurring(ctx, c))
	got, err := s.GetRecurring(ctx, "rc1")

	require.NoError(t, err)
	assert.Equal(t, c, got)
	assert.Nil(t, got.LastRunAt)
}

func TestGetRecurring_NotFound(t *testing.T) {
	s := createTestStore(t)
	_, err := s.GetRecurring(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDueRecurring(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	due := createTestRecurring("due", testNow.Add(-time.Minute))
	exact := createTestRecurring("exact", testNow)
	future := createTestRecurring("future", testNow.Add(time.Minute))
	off := createTestRecurring("off", testNow.Add(-time.Hour))
	off.Enabled = false
	for _, c := range []ir.RecurringConfig{due, exact, future, off} {
		require.NoError(t, s.CreateRecurring(ctx, c))
	}

	got, err := s.DueRecurring(ctx, testNow)

	require.NoError(t, err)
	ids := []string{}
	for _, c := range got {
		ids = append(ids, c.ID)
	}
	assert.Equal(t, []string{"due", "exact"}, ids)
}

func TestListRecurring(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	a := createTestRecurring("a", testNow)
	b := createTestRecurring("b", testNow)
	b.BoardID = "b2"
	require.NoError(t, s.CreateRecurring(ctx, a))
	require.NoError(t, s.CreateRecurring(ctx, b))

	onB1, err := s.ListRecurring(ctx, "b1")
	require.NoError(t, err)
	assert.Len(t, onB1, 1)

	all, err := s.ListRecurring(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestClaimRecurring_AdvancesOnce(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestRecurring("rc1", testNow)
	require.NoError(t, s.CreateRecurring(ctx, c))

	next := testNow.Add(7 * 24 * time.Hour)
	won, err := s.ClaimRecurring(ctx, c, next, testNow)
	require.NoError(t, err)
	assert.True(t, won)

	// Same snapshot again: the slot is gone.
	won, err = s.ClaimRecurring(ctx, c, next, testNow)
	require.NoError(t, err)
	assert.False(t, won)

	got, err := s.GetRecurring(ctx, "rc1")
	require.NoError(t, err)
	assert.Equal(t, next, got.NextRunAt)
	require.NotNil(t, got.LastRunAt)
	assert.Equal(t, testNow, *got.LastRunAt)
	assert.Equal(t, int64(1), got.ClaimVersion)
}

func TestClaimRecurring_ConcurrentSingleWinner(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestRecurring("rc1", testNow)
	require.NoError(t, s.CreateRecurring(ctx, c))

	const claimers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := s.ClaimRecurring(ctx, c, testNow.Add(time.Hour), testNow)
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
}

func TestClaimRecurring_DisabledNeverClaimed(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestRecurring("rc1", testNow)
	c.Enabled = false
	require.NoError(t, s.CreateRecurring(ctx, c))

	won, err := s.ClaimRecurring(ctx, c, testNow.Add(time.Hour), testNow)

	require.NoError(t, err)
	assert.False(t, won)
}

func TestUpdateRecurring_InvalidatesOutstandingClaim(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	c := createTestRecurring("rc1", testNow)
	require.NoError(t, s.CreateRecurring(ctx, c))

	edited := c
	edited.CronExpression = "@daily"
	updated, err := s.UpdateRecurring(ctx, edited)
	require.NoError(t, err)
	assert.Equal(t, "@daily", updated.CronExpression)
	assert.Equal(t, int64(1), updated.ClaimVersion)

	won, err := s.ClaimRecurring(ctx, c, testNow.Add(time.Hour), testNow)
	require.NoError(t, err)
	assert.False(t, won, "stale snapshot must lose")

	_, err = s.UpdateRecurring(ctx, createTestRecurring("missing", testNow))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteRecurring(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.CreateRecurring(ctx, createTestRecurring("rc1", testNow)))

	require.NoError(t, s.DeleteRecurring(ctx, "rc1"))
	assert.ErrorIs(t, s.DeleteRecurring(ctx, "rc1"), ErrNotFound)
}
