package domain

// Weights parameterize the scorer. Free allowances absorb the ordinary
// failure or two before any points accrue.
type Weights struct {
	FailedFree       int
	FailedWeight     int
	PhoneReuseMax    int
	PhoneReuseWeight int
	IPReuseMax       int
	IPReuseWeight    int
	RapidMaxAttempts int
	RapidWeight      int
}

// WeightedScorer is the default Scorer: each signal past its allowance
// contributes weight per excess unit, and the heaviest contributor names
// the block reason.
type WeightedScorer struct {
	weights Weights
}

func NewWeightedScorer(weights Weights) *WeightedScorer {
	return &WeightedScorer{weights: weights}
}

func (s *WeightedScorer) Score(signals Signals) (int, string) {
	type contribution struct {
		points int
		reason string
	}

	contributions := []contribution{
		{
			points: excess(signals.FailedAttempts, s.weights.FailedFree) * s.weights.FailedWeight,
			reason: "repeated_failed_attempts",
		},
		{
			points: excess(signals.DistinctPhones, s.weights.PhoneReuseMax) * s.weights.PhoneReuseWeight,
			reason: "phone_number_cycling",
		},
		{
			points: excess(signals.DistinctIPs, s.weights.IPReuseMax) * s.weights.IPReuseWeight,
			reason: "ip_address_cycling",
		},
		{
			points: excess(signals.RapidAttempts, s.weights.RapidMaxAttempts) * s.weights.RapidWeight,
			reason: "rapid_fire_attempts",
		},
	}

	total := 0
	reason := ""
	top := 0
	for _, c := range contributions {
		total += c.points
		if c.points > top {
			top = c.points
			reason = c.reason
		}
	}
	return total, reason
}

func excess(count, allowance int) int {
	if count <= allowance {
		return 0
	}
	return count - allowance
}
