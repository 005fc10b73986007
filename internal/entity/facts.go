package entity

import (
	"math"
	"time"

	"github.com/mbd888/riskwatch/internal/kvstore"
)

// AccountFact is the persisted feature record of one account, overwritten on
// every feature run. The hist_* baselines feed the next run's z-scores.
type AccountFact struct {
	AccountID string `json:"account_id"`

	// velocity
	TxnOutCount    int     `json:"txn_out_count"`
	MaxTxnPerDay   int     `json:"max_txn_per_day"`
	AvgTxnPerDay   float64 `json:"avg_txn_per_day"`
	MaxTxnPerHour  int     `json:"max_txn_per_hour"`
	VelocityZScore float64 `json:"velocity_zscore"`

	// amount
	TotalOutAmount float64 `json:"total_out_amount"`
	AvgOutAmount   float64 `json:"avg_out_amount"`
	MaxOutAmount   float64 `json:"max_out_amount"`
	AmountZScore   float64 `json:"amount_zscore"`

	// counterparty
	UniqueRecipients  int     `json:"unique_recipients"`
	NewRecipientRatio float64 `json:"new_recipient_ratio"`
	RecipientEntropy  float64 `json:"recipient_entropy"`

	// device exposure
	DeviceCount       int `json:"device_count"`
	SharedDeviceCount int `json:"shared_device_count"`

	// lifecycle; both are 0 when the creation date is unknown
	AccountAgeDays    int     `json:"account_age_days"`
	FirstTxnDelayDays float64 `json:"first_txn_delay_days"`
	CreationUnknown   bool    `json:"creation_unknown,omitempty"`

	HistTxnMean    float64 `json:"hist_txn_mean"`
	HistAmountMean float64 `json:"hist_amount_mean"`
	HistAmountStd  float64 `json:"hist_amount_std"`

	RiskScore    float64   `json:"risk_score"`
	RiskFactors  []string  `json:"risk_factors,omitempty"`
	LastComputed time.Time `json:"last_computed"`
}

// NonZeroFeatureCount counts the features (not baselines or risk) that are
// non-zero.
func (f *AccountFact) NonZeroFeatureCount() int {
	features := []float64{
		float64(f.TxnOutCount),
		float64(f.MaxTxnPerDay),
		f.AvgTxnPerDay,
		float64(f.MaxTxnPerHour),
		f.VelocityZScore,
		f.TotalOutAmount,
		f.AvgOutAmount,
		f.MaxOutAmount,
		f.AmountZScore,
		float64(f.UniqueRecipients),
		f.NewRecipientRatio,
		f.RecipientEntropy,
		float64(f.DeviceCount),
		float64(f.SharedDeviceCount),
		float64(f.AccountAgeDays),
		f.FirstTxnDelayDays,
	}
	n := 0
	for _, v := range features {
		if v != 0 {
			n++
		}
	}
	return n
}

// Record returns the stored form of the fact.
func (f *AccountFact) Record() (kvstore.Record, error) {
	return ToRecord(f)
}

// DecodeAccountFact reads a stored account fact. Missing fields are zero.
func DecodeAccountFact(rec kvstore.Record) (*AccountFact, error) {
	if rec == nil {
		return nil, errEmptyRecord
	}
	var f AccountFact
	if err := FromRecord(rec, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// DeviceFact is the persisted feature record of one device.
type DeviceFact struct {
	DeviceID            string    `json:"device_id"`
	SharedAccountCount  int       `json:"shared_account_count"`
	FlaggedAccountCount int       `json:"flagged_account_count"`
	AvgAccountRisk      float64   `json:"avg_account_risk"`
	MaxAccountRisk      float64   `json:"max_account_risk"`
	NewAccountRate      int       `json:"new_account_rate"`
	Fraud               bool      `json:"fraud"`
	Watchlist           bool      `json:"watchlist"`
	LastComputed        time.Time `json:"last_computed"`
}

// Record returns the stored form of the fact, with the average risk rounded
// to two decimals.
func (f *DeviceFact) Record() (kvstore.Record, error) {
	stored := *f
	stored.AvgAccountRisk = math.Round(f.AvgAccountRisk*100) / 100
	return ToRecord(&stored)
}

// DecodeDeviceFact reads a stored device fact.
func DecodeDeviceFact(rec kvstore.Record) (*DeviceFact, error) {
	if rec == nil {
		return nil, errEmptyRecord
	}
	var f DeviceFact
	if err := FromRecord(rec, &f); err != nil {
		return nil, err
	}
	return &f, nil
}

// FlaggedAccount is the review-queue entry written for a flagged user.
type FlaggedAccount struct {
	UserID             string    `json:"user_id"`
	RiskScore          float64   `json:"risk_score"`
	RiskFactors        []string  `json:"risk_factors"`
	Reason             string    `json:"reason"`
	HighestRiskAccount string    `json:"highest_risk_account,omitempty"`
	Status             string    `json:"status"`
	FlaggedAt          time.Time `json:"flagged_at"`
	ConfigVersion      int64     `json:"config_version"`
}

// Record returns the stored form of the entry.
func (f *FlaggedAccount) Record() (kvstore.Record, error) {
	return ToRecord(f)
}

// DecodeFlaggedAccount reads a stored review-queue entry.
func DecodeFlaggedAccount(rec kvstore.Record) (*FlaggedAccount, error) {
	if rec == nil {
		return nil, errEmptyRecord
	}
	var f FlaggedAccount
	if err := FromRecord(rec, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
