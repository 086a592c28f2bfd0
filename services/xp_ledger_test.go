package services_test

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"course-progression/apperr"
	"course-progression/models"
	"course-progression/services"
	"course-progression/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestXPForNextLevel(t *testing.T) {
	cases := map[int]int64{
		1:  100,
		2:  282,
		3:  519,
		4:  800,
		10: 3162,
	}
	for level, want := range cases {
		assert.Equal(t, want, services.XPForNextLevel(level), "level %d", level)
	}
	assert.Equal(t, int64(100), services.XPForNextLevel(0), "levels below 1 clamp to 1")
}

func TestXPForNextLevelMatchesFloatFormula(t *testing.T) {
	for n := 1; n <= 2000; n++ {
		want := int64(math.Floor(100 * math.Pow(float64(n), 1.5)))
		got := services.XPForNextLevel(n)
		// float rounding can land one off at exact squares; the integer form is authoritative
		assert.InDelta(t, want, got, 1, "level %d", n)
	}
}

func TestCumulativeXPForLevel(t *testing.T) {
	assert.Equal(t, int64(0), services.CumulativeXPForLevel(1))
	assert.Equal(t, int64(100), services.CumulativeXPForLevel(2))
	assert.Equal(t, int64(382), services.CumulativeXPForLevel(3))
	assert.Equal(t, int64(901), services.CumulativeXPForLevel(4))
	assert.Equal(t, int64(1701), services.CumulativeXPForLevel(5))
}

func TestLevelForXP(t *testing.T) {
	cases := []struct {
		xp   int64
		want int
	}{
		{0, 1},
		{99, 1},
		{100, 2},
		{381, 2},
		{382, 3},
		{900, 3},
		{901, 4},
		{1012, 4},
		{1700, 4},
		{1701, 5},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, services.LevelForXP(tc.xp), "xp %d", tc.xp)
	}
}

func TestLevelInvariantHoldsForRandomXP(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 500; i++ {
		xp := r.Int63n(5_000_000)
		level := services.LevelForXP(xp)
		assert.LessOrEqual(t, services.CumulativeXPForLevel(level), xp)
		assert.Greater(t, services.CumulativeXPForLevel(level+1), xp)
	}
}

func TestCalculateRevealCost(t *testing.T) {
	p := services.RevealPolicy{Multiplier: 2, Damping: 10}
	assert.Equal(t, int64(20), p.CalculateRevealCost(10, 1))
	assert.Equal(t, int64(10), p.CalculateRevealCost(10, 11))
	assert.Equal(t, int64(1), p.CalculateRevealCost(0, 1), "cost is at least 1")
	assert.Equal(t, int64(1), p.CalculateRevealCost(1, 1000))
	assert.GreaterOrEqual(t, p.CalculateRevealCost(10, 1), p.CalculateRevealCost(10, 5), "higher levels pay less")
}

func newLedger(t *testing.T) *services.XPLedger {
	t.Helper()
	return services.NewXPLedger(testutil.DB(t), services.RevealPolicy{Multiplier: 2, Damping: 10}, testutil.Logger(t))
}

func TestAwardXPNewUser(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	res, err := ledger.AwardXP(ctx, "u1", 50, models.XPSourceLesson)
	require.NoError(t, err)
	assert.Equal(t, int64(50), res.NewTotalXP)
	assert.False(t, res.LeveledUp)
	assert.Equal(t, 1, res.NewLevel)

	prog, err := ledger.GetProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(50), prog.TotalXP)
	assert.Equal(t, int64(50), prog.XPToNextLevel)
}

func TestAwardXPCrossesSeveralLevels(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	res, err := ledger.AwardXP(ctx, "u1", 1000, models.XPSourceBonus)
	require.NoError(t, err)
	assert.True(t, res.LeveledUp)
	assert.Equal(t, 1, res.PreviousLevel)
	assert.Equal(t, 4, res.NewLevel)

	prog, err := ledger.GetProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 4, prog.CurrentLevel)
	assert.Equal(t, int64(1701-1000), prog.XPToNextLevel)
	assert.NotNil(t, prog.LastLevelUpAt)
}

func TestAwardXPRejectsNegativeAndIgnoresZero(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	_, err := ledger.AwardXP(ctx, "u1", -5, models.XPSourceLesson)
	assert.True(t, errors.Is(err, apperr.Validation))

	res, err := ledger.AwardXP(ctx, "u1", 0, models.XPSourceLesson)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.NewTotalXP)
	assert.False(t, res.LeveledUp)
}

func TestRandomAwardSequenceKeepsLevelConsistent(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)
	r := rand.New(rand.NewSource(7))

	var total int64
	lastLevel := 1
	for i := 0; i < 60; i++ {
		amount := r.Int63n(400)
		total += amount
		res, err := ledger.AwardXP(ctx, "u1", amount, models.XPSourceGame)
		require.NoError(t, err)
		assert.Equal(t, total, res.NewTotalXP)
		assert.GreaterOrEqual(t, res.NewLevel, lastLevel)
		assert.Equal(t, services.LevelForXP(total), res.NewLevel)
		lastLevel = res.NewLevel
	}
}

func TestRevealAnswerWithXP(t *testing.T) {
	ctx := context.Background()
	ledger := newLedger(t)

	_, err := ledger.AwardXP(ctx, "u1", 30, models.XPSourceLesson)
	require.NoError(t, err)

	remaining, err := ledger.RevealAnswerWithXP(ctx, "u1", 20)
	require.NoError(t, err)
	assert.Equal(t, int64(10), remaining)

	_, err = ledger.RevealAnswerWithXP(ctx, "u1", 20)
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperr.InsufficientXP))
	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, map[string]int64{"available": 10, "cost": 20}, appErr.Details)

	prog, err := ledger.GetProgress(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(30), prog.TotalXP, "spending never lowers lifetime XP")
	assert.Equal(t, int64(20), prog.SpentXP)
	assert.Equal(t, 1, prog.CurrentLevel)
}

func TestRevealAnswerRejectsNonPositiveCost(t *testing.T) {
	_, err := newLedger(t).RevealAnswerWithXP(context.Background(), "u1", 0)
	assert.True(t, errors.Is(err, apperr.Validation))
}
