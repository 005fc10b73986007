package risk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskwatch/internal/entity"
)

// quietFact has activity but trips no rule under the default config.
func quietFact() *entity.AccountFact {
	return &entity.AccountFact{
		AccountID:         "a1",
		TxnOutCount:       5,
		MaxTxnPerDay:      2,
		AvgTxnPerDay:      0.71,
		MaxTxnPerHour:     1,
		TotalOutAmount:    500,
		AvgOutAmount:      100,
		MaxOutAmount:      150,
		UniqueRecipients:  2,
		NewRecipientRatio: 0.5,
		RecipientEntropy:  1,
		DeviceCount:       1,
		AccountAgeDays:    400,
		FirstTxnDelayDays: 390,
	}
}

func TestScore_NoIndicators(t *testing.T) {
	a := Score(quietFact(), DefaultConfig())

	assert.Equal(t, "a1", a.AccountID)
	assert.Zero(t, a.RiskScore)
	assert.Zero(t, a.RawPoints)
	assert.Empty(t, a.RiskFactors)
	assert.Equal(t, "No risk indicators triggered", a.Reason)
	for _, c := range Categories {
		assert.Equal(t, 0, a.CategoryScores[c], "category %s", c)
	}
	assert.Equal(t, int64(1), a.ConfigVersion)
}

func TestScore_VelocityOnly(t *testing.T) {
	f := quietFact()
	f.TxnOutCount = 150

	a := Score(f, DefaultConfig())

	assert.Equal(t, 15, a.RawPoints)
	assert.InDelta(t, 13.04, a.RiskScore, 0.01)
	assert.Equal(t, 15, a.CategoryScores[CategoryVelocity])
	require.Len(t, a.RiskFactors, 1)
	assert.Contains(t, a.RiskFactors[0], "150 outgoing transactions")
}

func TestScore_ZeroTransactions(t *testing.T) {
	f := &entity.AccountFact{AccountID: "a1", DeviceCount: 1, AccountAgeDays: 3}

	a := Score(f, DefaultConfig())

	assert.Equal(t, 0, a.CategoryScores[CategoryVelocity])
	assert.Equal(t, 0, a.CategoryScores[CategoryAmount])
	assert.Equal(t, 0, a.CategoryScores[CategoryCounterparty])
	// a young account without activity does not trip the lifecycle rules
	assert.Equal(t, 0, a.CategoryScores[CategoryLifecycle])
	assert.Zero(t, a.RiskScore)
}

func TestScore_AllRulesClampedTo100(t *testing.T) {
	f := &entity.AccountFact{
		AccountID:         "a1",
		TxnOutCount:       500,
		MaxTxnPerDay:      200,
		AvgTxnPerDay:      71.4,
		MaxTxnPerHour:     40,
		VelocityZScore:    9,
		TotalOutAmount:    4500000,
		MaxOutAmount:      20000,
		AvgOutAmount:      9000,
		AmountZScore:      7,
		UniqueRecipients:  40,
		NewRecipientRatio: 1,
		RecipientEntropy:  5,
		DeviceCount:       6,
		SharedDeviceCount: 8,
		AccountAgeDays:    2,
		FirstTxnDelayDays: 0.1,
	}

	a := Score(f, DefaultConfig())

	assert.Equal(t, MaxRawPoints, a.RawPoints)
	assert.Equal(t, 100.0, a.RiskScore)
	for _, c := range Categories {
		assert.Equal(t, CategoryMax[c], a.CategoryScores[c], "category %s", c)
	}
	assert.Len(t, a.RiskFactors, len(rules))
	assert.Equal(t, 0.95, a.Confidence)
}

func TestScore_FactorOrderAndReason(t *testing.T) {
	f := quietFact()
	f.SharedDeviceCount = 5 // device
	f.AvgOutAmount = 5000   // amount
	f.TxnOutCount = 120     // velocity
	f.RecipientEntropy = 3  // counterparty

	a := Score(f, DefaultConfig())

	require.Len(t, a.RiskFactors, 4)
	assert.True(t, strings.HasPrefix(a.RiskFactors[0], "High transaction velocity"))
	assert.True(t, strings.HasPrefix(a.RiskFactors[1], "High average amount"))
	assert.True(t, strings.HasPrefix(a.RiskFactors[2], "Dispersed payments"))
	assert.True(t, strings.HasPrefix(a.RiskFactors[3], "Shared devices"))
	assert.Equal(t, strings.Join(a.RiskFactors[:3], "; "), a.Reason)
}

func TestScore_ThresholdsAreStrict(t *testing.T) {
	f := quietFact()
	f.TxnOutCount = 100
	f.RecipientEntropy = 2.0
	f.NewRecipientRatio = 0.8

	a := Score(f, DefaultConfig())
	assert.Zero(t, a.RawPoints)
}

func TestScore_LifecycleRules(t *testing.T) {
	f := quietFact()
	f.AccountAgeDays = 10
	f.TxnOutCount = 11
	f.FirstTxnDelayDays = 0.5

	a := Score(f, DefaultConfig())
	assert.Equal(t, PointsNewActiveAccount+PointsFastFirstTxn, a.CategoryScores[CategoryLifecycle])

	f.TxnOutCount = 10
	a = Score(f, DefaultConfig())
	assert.Equal(t, PointsFastFirstTxn, a.CategoryScores[CategoryLifecycle])
}

func TestScore_UnknownCreationSkipsLifecycle(t *testing.T) {
	f := quietFact()
	f.TxnOutCount = 20
	f.AccountAgeDays = 0
	f.FirstTxnDelayDays = 0
	f.CreationUnknown = true

	a := Score(f, DefaultConfig())
	assert.Equal(t, 0, a.CategoryScores[CategoryLifecycle])
	assert.Zero(t, a.RawPoints)
}

func TestScore_UsesConfigThresholds(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Version = 9
	cfg.Thresholds.TxnOutCount = 3

	a := Score(quietFact(), cfg)

	assert.Equal(t, PointsTxnOutCount, a.RawPoints)
	assert.Equal(t, int64(9), a.ConfigVersion)
}

func TestScore_Confidence(t *testing.T) {
	f := &entity.AccountFact{TxnOutCount: 1, DeviceCount: 1}
	a := Score(f, DefaultConfig())
	assert.Equal(t, 0.56, a.Confidence)
}

func TestScore_NilFact(t *testing.T) {
	a := Score(nil, DefaultConfig())
	assert.Zero(t, a.RiskScore)
	assert.Empty(t, a.RiskFactors)
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		raw  int
		want float64
	}{
		{0, 0},
		{-5, 0},
		{15, 13.04},
		{115, 100},
		{230, 100},
	}
	for _, tt := range tests {
		if got := Normalize(tt.raw); got != tt.want {
			t.Errorf("Normalize(%d) = %v, want %v", tt.raw, got, tt.want)
		}
	}
}

func TestCategoryMaxSumsToNormalizer(t *testing.T) {
	sum := 0
	for _, c := range Categories {
		sum += CategoryMax[c]
	}
	if sum != MaxRawPoints {
		t.Errorf("category maxima sum to %d, want %d", sum, MaxRawPoints)
	}
}
