package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

var ErrInvalidConfig = errors.New("risk: invalid config")

// Thresholds are the per-rule trigger values. A rule fires when the feature
// is strictly above its threshold, except the lifecycle rules which fire
// below theirs.
type Thresholds struct {
	TxnOutCount       int     `json:"txn_out_count" validate:"gte=0"`
	MaxTxnPerDay      int     `json:"max_txn_per_day" validate:"gte=0"`
	VelocityZScore    float64 `json:"velocity_zscore" validate:"gte=0"`
	MaxOutAmount      float64 `json:"max_out_amount" validate:"gte=0"`
	AvgOutAmount      float64 `json:"avg_out_amount" validate:"gte=0"`
	AmountZScore      float64 `json:"amount_zscore" validate:"gte=0"`
	UniqueRecipients  int     `json:"unique_recipients" validate:"gte=0"`
	NewRecipientRatio float64 `json:"new_recipient_ratio" validate:"gte=0,lte=1"`
	RecipientEntropy  float64 `json:"recipient_entropy" validate:"gte=0"`
	DeviceCount       int     `json:"device_count" validate:"gte=0"`
	SharedDeviceCount int     `json:"shared_device_count" validate:"gte=0"`

	// an account younger than NewAccountAgeDays with more than
	// NewAccountMinTxns outgoing transactions
	NewAccountAgeDays int `json:"new_account_age_days" validate:"gte=0"`
	NewAccountMinTxns int `json:"new_account_min_txns" validate:"gte=0"`

	FirstTxnDelayDays float64 `json:"first_txn_delay_days" validate:"gte=0"`
}

// DeviceRules decide the watchlist and fraud flags of a device.
type DeviceRules struct {
	WatchlistMinSharedAccounts int     `json:"watchlist_min_shared_accounts" validate:"gte=1"`
	WatchlistMinAvgRisk        float64 `json:"watchlist_min_avg_risk" validate:"gte=0,lte=100"`
	FraudMinFlaggedAccounts    int     `json:"fraud_min_flagged_accounts" validate:"gte=1"`
}

// Config is one immutable version of the scoring configuration. It is the
// only source of thresholds in the system.
type Config struct {
	Version    int64       `json:"version"`
	Thresholds Thresholds  `json:"thresholds"`
	Device     DeviceRules `json:"device"`

	// RiskThreshold is the user score at or above which detection flags
	// the user for review.
	RiskThreshold float64 `json:"risk_threshold" validate:"gte=0,lte=100"`
	CooldownDays  int     `json:"cooldown_days" validate:"gte=0,lte=365"`

	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultConfig returns the canonical default configuration.
func DefaultConfig() Config {
	return Config{
		Version: 1,
		Thresholds: Thresholds{
			TxnOutCount:       100,
			MaxTxnPerDay:      50,
			VelocityZScore:    3.0,
			MaxOutAmount:      8000,
			AvgOutAmount:      3000,
			AmountZScore:      3.0,
			UniqueRecipients:  10,
			NewRecipientRatio: 0.8,
			RecipientEntropy:  2.0,
			DeviceCount:       2,
			SharedDeviceCount: 3,
			NewAccountAgeDays: 30,
			NewAccountMinTxns: 10,
			FirstTxnDelayDays: 1,
		},
		Device: DeviceRules{
			WatchlistMinSharedAccounts: 3,
			WatchlistMinAvgRisk:        70,
			FraudMinFlaggedAccounts:    2,
		},
		RiskThreshold: 70,
		CooldownDays:  7,
	}
}

var validate = validator.New()

// Validate checks every field against its constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
