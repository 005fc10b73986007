package risk

import (
	"fmt"
	"math"
	"strings"

	"github.com/mbd888/riskwatch/internal/entity"
)

// rule is one scoring rule: when fires reports true the category earns
// points and the factor text is recorded.
type rule struct {
	category Category
	points   int
	fires    func(f *entity.AccountFact, t Thresholds) bool
	factor   func(f *entity.AccountFact, t Thresholds) string
}

// rules in factor order.
var rules = []rule{
	{
		category: CategoryVelocity,
		points:   PointsTxnOutCount,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.TxnOutCount > t.TxnOutCount },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("High transaction velocity: %d outgoing transactions in window (threshold %d)", f.TxnOutCount, t.TxnOutCount)
		},
	},
	{
		category: CategoryVelocity,
		points:   PointsMaxTxnPerDay,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.MaxTxnPerDay > t.MaxTxnPerDay },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Transaction burst: %d transactions in a single day (threshold %d)", f.MaxTxnPerDay, t.MaxTxnPerDay)
		},
	},
	{
		category: CategoryVelocity,
		points:   PointsVelocityZScore,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.VelocityZScore > t.VelocityZScore },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Velocity anomaly: z-score %.2f against historical baseline", f.VelocityZScore)
		},
	},
	{
		category: CategoryAmount,
		points:   PointsMaxOutAmount,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.MaxOutAmount > t.MaxOutAmount },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Large transaction: max outgoing amount %.2f (threshold %.2f)", f.MaxOutAmount, t.MaxOutAmount)
		},
	},
	{
		category: CategoryAmount,
		points:   PointsAvgOutAmount,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.AvgOutAmount > t.AvgOutAmount },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("High average amount: %.2f per outgoing transaction (threshold %.2f)", f.AvgOutAmount, t.AvgOutAmount)
		},
	},
	{
		category: CategoryAmount,
		points:   PointsAmountZScore,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.AmountZScore > t.AmountZScore },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Amount anomaly: z-score %.2f against historical baseline", f.AmountZScore)
		},
	},
	{
		category: CategoryCounterparty,
		points:   PointsUniqueRecipients,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.UniqueRecipients > t.UniqueRecipients },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Many recipients: %d distinct counterparties (threshold %d)", f.UniqueRecipients, t.UniqueRecipients)
		},
	},
	{
		category: CategoryCounterparty,
		points:   PointsNewRecipients,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.NewRecipientRatio > t.NewRecipientRatio },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("New recipients: %.0f%% of counterparties never seen before", f.NewRecipientRatio*100)
		},
	},
	{
		category: CategoryCounterparty,
		points:   PointsEntropy,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.RecipientEntropy > t.RecipientEntropy },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Dispersed payments: recipient entropy %.2f bits (threshold %.2f)", f.RecipientEntropy, t.RecipientEntropy)
		},
	},
	{
		category: CategoryDevice,
		points:   PointsDeviceCount,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.DeviceCount > t.DeviceCount },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Multiple devices: %d devices linked to owner (threshold %d)", f.DeviceCount, t.DeviceCount)
		},
	},
	{
		category: CategoryDevice,
		points:   PointsSharedDevices,
		fires:    func(f *entity.AccountFact, t Thresholds) bool { return f.SharedDeviceCount > t.SharedDeviceCount },
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Shared devices: %d other accounts use the same devices (threshold %d)", f.SharedDeviceCount, t.SharedDeviceCount)
		},
	},
	{
		category: CategoryLifecycle,
		points:   PointsNewActiveAccount,
		fires: func(f *entity.AccountFact, t Thresholds) bool {
			return !f.CreationUnknown && f.AccountAgeDays < t.NewAccountAgeDays && f.TxnOutCount > t.NewAccountMinTxns
		},
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("New account with high activity: %d days old with %d outgoing transactions", f.AccountAgeDays, f.TxnOutCount)
		},
	},
	{
		category: CategoryLifecycle,
		points:   PointsFastFirstTxn,
		// the delay is 0 when there was no transaction to measure
		fires: func(f *entity.AccountFact, t Thresholds) bool {
			return !f.CreationUnknown && f.TxnOutCount > 0 && f.FirstTxnDelayDays < t.FirstTxnDelayDays
		},
		factor: func(f *entity.AccountFact, t Thresholds) string {
			return fmt.Sprintf("Immediate activity: first transaction %.2f days after account creation", f.FirstTxnDelayDays)
		},
	},
}

// Score evaluates one account fact under cfg.
func Score(f *entity.AccountFact, cfg Config) Assessment {
	a := Assessment{
		RiskFactors:    []string{},
		CategoryScores: make(map[Category]int, len(Categories)),
		ConfigVersion:  cfg.Version,
	}
	for _, c := range Categories {
		a.CategoryScores[c] = 0
	}
	if f == nil {
		a.Confidence = 0.5
		return a
	}
	a.AccountID = f.AccountID

	for _, r := range rules {
		if !r.fires(f, cfg.Thresholds) {
			continue
		}
		a.RawPoints += r.points
		a.CategoryScores[r.category] += r.points
		a.RiskFactors = append(a.RiskFactors, r.factor(f, cfg.Thresholds))
	}

	a.RiskScore = Normalize(a.RawPoints)
	a.Reason = reason(a.RiskFactors)
	a.Confidence = confidence(f.NonZeroFeatureCount())
	return a
}

// Normalize maps raw points onto [0, 100].
func Normalize(raw int) float64 {
	if raw <= 0 {
		return 0
	}
	score := math.Min(100, float64(raw)/MaxRawPoints*100)
	return math.Round(score*100) / 100
}

func reason(factors []string) string {
	if len(factors) == 0 {
		return "No risk indicators triggered"
	}
	n := len(factors)
	if n > maxReasonFactors {
		n = maxReasonFactors
	}
	return strings.Join(factors[:n], "; ")
}

func confidence(nonZero int) float64 {
	c := math.Min(maxConfidence, 0.5+0.03*float64(nonZero))
	return math.Round(c*100) / 100
}
