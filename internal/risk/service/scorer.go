package service

import "github.com/smallbiznis/referralledger/internal/risk/domain"

// Score evaluates rules against the candidate in order. It is pure: the
// same candidate and thresholds always produce the same assessment.
// ScoredAt is left for the caller.
func Score(c domain.Candidate, th domain.Thresholds, rules []domain.Rule) domain.Assessment {
	assessment := domain.Assessment{
		Signals:   []domain.Signal{},
		Threshold: th.FlagScore,
		Decision:  domain.DecisionAccepted,
	}

	forced := false
	for _, rule := range rules {
		signal, ok := rule.Evaluate(c, th)
		if !ok || signal.Points < 0 {
			continue
		}
		assessment.Signals = append(assessment.Signals, signal)
		assessment.Total += signal.Points
		forced = forced || signal.ForcesReview
	}

	if forced || assessment.Total >= th.FlagScore {
		assessment.Decision = domain.DecisionFlagged
	}
	return assessment
}
