// Package risk implements deterministic rule-based risk scoring.
//
// Every account fact is evaluated against five categories of rules:
// velocity, amount, counterparty, device, and lifecycle. Each triggered rule
// awards fixed points; the raw sum is normalized against the sum of the
// category maxima into a 0-100 score. The scorer is a pure function of the
// fact and a versioned Config, so the same inputs always produce the same
// assessment.
package risk

// Category groups related rules.
type Category string

const (
	CategoryVelocity     Category = "velocity"
	CategoryAmount       Category = "amount"
	CategoryCounterparty Category = "counterparty"
	CategoryDevice       Category = "device"
	CategoryLifecycle    Category = "lifecycle"
)

// Categories in scoring order. Risk factors are emitted in this order.
var Categories = []Category{
	CategoryVelocity,
	CategoryAmount,
	CategoryCounterparty,
	CategoryDevice,
	CategoryLifecycle,
}

// Points awarded per rule.
const (
	PointsTxnOutCount      = 15
	PointsMaxTxnPerDay     = 10
	PointsVelocityZScore   = 5
	PointsMaxOutAmount     = 10
	PointsAvgOutAmount     = 10
	PointsAmountZScore     = 5
	PointsUniqueRecipients = 10
	PointsNewRecipients    = 10
	PointsEntropy          = 5
	PointsDeviceCount      = 10
	PointsSharedDevices    = 5
	PointsNewActiveAccount = 15
	PointsFastFirstTxn     = 5
)

// CategoryMax is the most points each category can award.
var CategoryMax = map[Category]int{
	CategoryVelocity:     PointsTxnOutCount + PointsMaxTxnPerDay + PointsVelocityZScore,
	CategoryAmount:       PointsMaxOutAmount + PointsAvgOutAmount + PointsAmountZScore,
	CategoryCounterparty: PointsUniqueRecipients + PointsNewRecipients + PointsEntropy,
	CategoryDevice:       PointsDeviceCount + PointsSharedDevices,
	CategoryLifecycle:    PointsNewActiveAccount + PointsFastFirstTxn,
}

// MaxRawPoints is the normalization denominator (115).
const MaxRawPoints = 30 + 25 + 25 + 15 + 20

const (
	maxReasonFactors = 3
	maxUserFactors   = 5
	maxConfidence    = 0.95
)

// Assessment is the scorer's verdict on one account.
type Assessment struct {
	AccountID      string           `json:"account_id"`
	RiskScore      float64          `json:"risk_score"`
	RawPoints      int              `json:"raw_points"`
	RiskFactors    []string         `json:"risk_factors"`
	Reason         string           `json:"reason"`
	CategoryScores map[Category]int `json:"category_scores"`
	Confidence     float64          `json:"confidence"`
	ConfigVersion  int64            `json:"config_version"`
}

// UserAssessment aggregates a user's account assessments.
type UserAssessment struct {
	UserID             string      `json:"user_id"`
	RiskScore          float64     `json:"risk_score"`
	RiskFactors        []string    `json:"risk_factors"`
	HighestRiskAccount *Assessment `json:"highest_risk_account,omitempty"`
	AccountsScored     int         `json:"accounts_scored"`
}
