package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/riskwatch/internal/entity"
)

func TestAggregateUser_MaxScoreWins(t *testing.T) {
	ua := AggregateUser("u1", []Assessment{
		{AccountID: "a1", RiskScore: 20, RiskFactors: []string{"f1"}},
		{AccountID: "a2", RiskScore: 65, RiskFactors: []string{"f2", "f1"}},
		{AccountID: "a3", RiskScore: 65, RiskFactors: []string{"f3"}},
	})

	assert.Equal(t, "u1", ua.UserID)
	assert.Equal(t, 65.0, ua.RiskScore)
	require.NotNil(t, ua.HighestRiskAccount)
	assert.Equal(t, "a2", ua.HighestRiskAccount.AccountID)
	assert.Equal(t, []string{"f1", "f2", "f3"}, ua.RiskFactors)
	assert.Equal(t, 3, ua.AccountsScored)
}

func TestAggregateUser_FactorCap(t *testing.T) {
	ua := AggregateUser("u1", []Assessment{
		{AccountID: "a1", RiskScore: 10, RiskFactors: []string{"f1", "f2", "f3"}},
		{AccountID: "a2", RiskScore: 30, RiskFactors: []string{"f3", "f4", "f5", "f6", "f7"}},
	})

	assert.Equal(t, []string{"f1", "f2", "f3", "f4", "f5"}, ua.RiskFactors)
}

func TestAggregateUser_NoAccounts(t *testing.T) {
	ua := AggregateUser("u1", nil)

	assert.Zero(t, ua.RiskScore)
	assert.Nil(t, ua.HighestRiskAccount)
	assert.Empty(t, ua.RiskFactors)
	assert.Zero(t, ua.AccountsScored)
}

func TestAggregateUser_HighestIsCopy(t *testing.T) {
	in := []Assessment{{AccountID: "a1", RiskScore: 40}}
	ua := AggregateUser("u1", in)
	in[0].RiskScore = 99

	assert.Equal(t, 40.0, ua.HighestRiskAccount.RiskScore)
}

func TestFlagDevice(t *testing.T) {
	dr := DefaultConfig().Device

	tests := []struct {
		name      string
		fact      entity.DeviceFact
		watchlist bool
		fraud     bool
	}{
		{
			name:      "shared by risky accounts with fraud",
			fact:      entity.DeviceFact{SharedAccountCount: 4, FlaggedAccountCount: 2, AvgAccountRisk: 75},
			watchlist: true,
			fraud:     true,
		},
		{
			name: "shared but low risk",
			fact: entity.DeviceFact{SharedAccountCount: 5, AvgAccountRisk: 69.99},
		},
		{
			name: "risky but barely shared",
			fact: entity.DeviceFact{SharedAccountCount: 2, AvgAccountRisk: 90},
		},
		{
			name:  "single flagged account is not enough",
			fact:  entity.DeviceFact{SharedAccountCount: 1, FlaggedAccountCount: 1},
			fraud: false,
		},
		{
			name:  "fraud without watchlist",
			fact:  entity.DeviceFact{SharedAccountCount: 2, FlaggedAccountCount: 2, AvgAccountRisk: 10},
			fraud: true,
		},
		{
			name:      "boundaries are inclusive",
			fact:      entity.DeviceFact{SharedAccountCount: 3, AvgAccountRisk: 70},
			watchlist: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := tt.fact
			FlagDevice(&f, dr)
			if f.Watchlist != tt.watchlist {
				t.Errorf("Watchlist = %v, want %v", f.Watchlist, tt.watchlist)
			}
			if f.Fraud != tt.fraud {
				t.Errorf("Fraud = %v, want %v", f.Fraud, tt.fraud)
			}
		})
	}
}

func TestFlagDevice_Nil(t *testing.T) {
	FlagDevice(nil, DefaultConfig().Device)
}
