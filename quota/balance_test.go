package quota_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/visit-engine/engine"
	"github.com/warp/visit-engine/quota"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type fixedSource struct {
	balance *quota.Balance
	err     error
}

func (s fixedSource) UnitBalance(_ context.Context, _, _, _ string) (*quota.Balance, error) {
	return s.balance, s.err
}

func marchBalance(remaining int64) *quota.Balance {
	return &quota.Balance{
		ClientID:       "client-1",
		SpecialityID:   "nursing",
		Month:          "2026-03",
		TotalAllocated: decimal.NewFromInt(remaining),
		TotalUsed:      decimal.Zero,
		TotalRemaining: decimal.NewFromInt(remaining),
	}
}

// =============================================================================
// UNIT CONVERSION - ceil(minutes / 15)
// =============================================================================

func TestUnitsFor(t *testing.T) {
	cases := []struct {
		minutes int
		units   int
	}{
		{0, 0},
		{-30, 0},
		{1, 1},
		{15, 1},
		{16, 2},
		{60, 4},
		{120, 8},
		{135, 9},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.units, quota.UnitsFor(tc.minutes), "minutes=%d", tc.minutes)
	}
}

// =============================================================================
// PROJECTION
// =============================================================================

func TestProject_ExactFit(t *testing.T) {
	// GIVEN: 8 units remaining for March
	// WHEN: Projecting a 120-minute visit (8 units)
	// THEN: Projected 0, not insufficient

	calc := &quota.Calculator{Source: fixedSource{balance: marchBalance(8)}}
	proj, err := calc.Project(context.Background(), "client-1", "nursing",
		engine.NewDate(2026, time.March, 10), 120)
	require.NoError(t, err)

	assert.Equal(t, 8, proj.Required)
	assert.True(t, proj.Projected.IsZero())
	assert.False(t, proj.Insufficient)
}

func TestProject_Insufficient(t *testing.T) {
	// 135 minutes needs 9 units against 8 remaining.
	calc := &quota.Calculator{Source: fixedSource{balance: marchBalance(8)}}
	proj, err := calc.Project(context.Background(), "client-1", "nursing",
		engine.NewDate(2026, time.March, 10), 135)
	require.NoError(t, err)

	assert.Equal(t, 9, proj.Required)
	assert.Equal(t, "-1", proj.Projected.String())
	assert.True(t, proj.Insufficient)
}

func TestProject_FractionalRemaining(t *testing.T) {
	bal := marchBalance(0)
	bal.TotalRemaining = decimal.RequireFromString("4.5")

	calc := &quota.Calculator{Source: fixedSource{balance: bal}}
	proj, err := calc.Project(context.Background(), "client-1", "nursing",
		engine.NewDate(2026, time.March, 10), 60)
	require.NoError(t, err)

	assert.Equal(t, "0.5", proj.Projected.String())
	assert.False(t, proj.Insufficient)
}

func TestProject_LookupFailureWrapsUnavailable(t *testing.T) {
	// A failed lookup must be distinguishable from "balance is fine".
	calc := &quota.Calculator{Source: fixedSource{err: errors.New("quota system down")}}
	_, err := calc.Project(context.Background(), "client-1", "nursing",
		engine.NewDate(2026, time.March, 10), 60)

	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrValidationUnavailable)
}
