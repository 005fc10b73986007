package risk

import "github.com/mbd888/riskwatch/internal/entity"

// AggregateUser combines a user's account assessments. The user's score is
// the maximum account score; the first account reaching it is the highest
// risk account. Factors are the de-duplicated union in input order, capped
// at five.
func AggregateUser(userID string, assessments []Assessment) UserAssessment {
	ua := UserAssessment{
		UserID:      userID,
		RiskFactors: []string{},
	}

	seen := make(map[string]bool)
	for i := range assessments {
		a := &assessments[i]
		ua.AccountsScored++
		if ua.HighestRiskAccount == nil || a.RiskScore > ua.RiskScore {
			ua.RiskScore = a.RiskScore
			highest := *a
			ua.HighestRiskAccount = &highest
		}
		for _, factor := range a.RiskFactors {
			if seen[factor] || len(ua.RiskFactors) >= maxUserFactors {
				continue
			}
			seen[factor] = true
			ua.RiskFactors = append(ua.RiskFactors, factor)
		}
	}
	return ua
}

// FlagDevice applies the device rules to fact, setting Watchlist and Fraud.
// The two rules are independent.
func FlagDevice(fact *entity.DeviceFact, dr DeviceRules) {
	if fact == nil {
		return
	}
	fact.Watchlist = fact.SharedAccountCount >= dr.WatchlistMinSharedAccounts &&
		fact.AvgAccountRisk >= dr.WatchlistMinAvgRisk
	fact.Fraud = fact.FlaggedAccountCount >= dr.FraudMinFlaggedAccounts
}
