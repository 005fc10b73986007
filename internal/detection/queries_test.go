package detection

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskwatch/internal/risk"
)

func TestAssessAccount(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	_, err := f.runner.RunFeatureJob(context.Background(), 7)
	require.NoError(t, err)

	a, err := f.runner.AssessAccount(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.AccountID)
	assert.Equal(t, 13.04, a.RiskScore)
	assert.Equal(t, 15, a.RawPoints)

	_, err = f.runner.AssessAccount(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestAssessUser(t *testing.T) {
	f := newFixture(t)
	f.seed(t)
	_, err := f.runner.RunFeatureJob(context.Background(), 7)
	require.NoError(t, err)

	ua, err := f.runner.AssessUser(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 13.04, ua.RiskScore)
	require.NotNil(t, ua.HighestRiskAccount)
	assert.Equal(t, "a1", ua.HighestRiskAccount.AccountID)
	assert.Equal(t, 2, ua.AccountsScored)

	_, err = f.runner.AssessUser(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestListFlagged(t *testing.T) {
	f := detectionFixture(t)
	ctx := context.Background()
	_, err := f.runner.RunDetection(ctx, false)
	require.NoError(t, err)

	flagged, next, err := f.runner.ListFlagged(ctx, 10, "")
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	assert.Empty(t, next)
	assert.Equal(t, "u1", flagged[0].UserID)
	assert.True(t, flagged[0].FlaggedAt.Equal(testNow))

	// a lower threshold re-flags u1 and adds u2 at the same instant
	f.clock.Advance(time.Hour)
	_, err = f.configs.Update(func(c *risk.Config) error {
		c.RiskThreshold = 5
		return nil
	})
	require.NoError(t, err)
	_, err = f.runner.RunDetection(ctx, true)
	require.NoError(t, err)

	flagged, next, err = f.runner.ListFlagged(ctx, 1, "")
	require.NoError(t, err)
	require.Len(t, flagged, 1)
	require.NotEmpty(t, next)

	rest, _, err := f.runner.ListFlagged(ctx, 10, next)
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}
