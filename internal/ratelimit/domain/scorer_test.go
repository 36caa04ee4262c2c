package domain

import "testing"

func testWeights() Weights {
	return Weights{
		FailedFree:       2,
		FailedWeight:     15,
		PhoneReuseMax:    3,
		PhoneReuseWeight: 20,
		IPReuseMax:       3,
		IPReuseWeight:    15,
		RapidMaxAttempts: 5,
		RapidWeight:      25,
	}
}

func TestScoreWithinAllowances(t *testing.T) {
	scorer := NewWeightedScorer(testWeights())

	score, reason := scorer.Score(Signals{
		FailedAttempts: 2,
		DistinctPhones: 3,
		DistinctIPs:    3,
		RapidAttempts:  5,
	})
	if score != 0 {
		t.Fatalf("expected zero score at allowance boundary, got %d", score)
	}
	if reason != "" {
		t.Fatalf("expected no reason, got %q", reason)
	}
}

func TestScoreAccumulatesAcrossSignals(t *testing.T) {
	scorer := NewWeightedScorer(testWeights())

	// 2 excess failures (30) + 1 excess phone (20) = 50.
	score, reason := scorer.Score(Signals{
		FailedAttempts: 4,
		DistinctPhones: 4,
	})
	if score != 50 {
		t.Fatalf("expected 50, got %d", score)
	}
	if reason != "repeated_failed_attempts" {
		t.Fatalf("expected dominant reason repeated_failed_attempts, got %q", reason)
	}
}

func TestScoreDominantReason(t *testing.T) {
	scorer := NewWeightedScorer(testWeights())

	_, reason := scorer.Score(Signals{
		FailedAttempts: 3,
		RapidAttempts:  8,
	})
	if reason != "rapid_fire_attempts" {
		t.Fatalf("expected rapid_fire_attempts, got %q", reason)
	}
}
