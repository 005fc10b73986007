package features

import (
	"fmt"
	"time"

	"github.com/mbd888/riskwatch/internal/entity"
	"github.com/mbd888/riskwatch/internal/relcache"
)

// DeviceInput is everything ComputeDevice needs for one device.
type DeviceInput struct {
	DeviceID string
	Cache    *relcache.Cache

	// Accounts holds this run's freshly computed and scored account facts.
	Accounts map[string]*entity.AccountFact

	WindowDays int
	Now        time.Time
}

// ComputeDevice derives a device's exposure features. Fraud and watchlist
// are left false for risk.FlagDevice to decide.
func ComputeDevice(in DeviceInput) (*entity.DeviceFact, error) {
	if in.DeviceID == "" {
		return nil, ErrMissingID
	}
	if in.WindowDays <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidWindow, in.WindowDays)
	}
	if in.Cache == nil {
		return nil, ErrMissingCache
	}

	now := in.Now.UTC()
	accounts := in.Cache.AccountsForDevice(in.DeviceID)

	f := &entity.DeviceFact{
		DeviceID:           in.DeviceID,
		SharedAccountCount: len(accounts),
		LastComputed:       now,
	}

	var (
		riskSum float64
		scored  int
	)
	for _, accID := range accounts {
		if in.Cache.AccountFraud[accID] {
			f.FlaggedAccountCount++
		}
		if age, ok := in.Cache.AccountAgeDays(accID, now); ok && age < in.WindowDays {
			f.NewAccountRate++
		}
		fact, ok := in.Accounts[accID]
		if !ok || fact == nil {
			continue
		}
		scored++
		riskSum += fact.RiskScore
		if fact.RiskScore > f.MaxAccountRisk {
			f.MaxAccountRisk = fact.RiskScore
		}
	}
	if scored > 0 {
		// rounded on write; the device rules compare the exact mean
		f.AvgAccountRisk = riskSum / float64(scored)
	}
	return f, nil
}
