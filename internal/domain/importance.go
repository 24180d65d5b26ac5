package domain

import (
	"math"
	"time"
)

// Decay and reinforcement defaults. Working items fade faster than
// sessions; knowledge entries do not decay inside the engine.
const (
	WorkingDecayRate    = 0.30 // per day
	SessionDecayRate    = 0.05 // per day
	ReinforcementFactor = 0.15
)

var tierDecayRates = map[Tier]float64{
	TierWorking:   WorkingDecayRate,
	TierSession:   SessionDecayRate,
	TierKnowledge: 0,
}

func DecayRate(tier Tier) float64 {
	if r, ok := tierDecayRates[tier]; ok {
		return r
	}
	return SessionDecayRate
}

// Score computes current importance from the base value, time elapsed
// since last access, and the access count:
//
//	decayed       = base * exp(-rate * days)
//	reinforcement = 1 + ln(1+accessCount) * ReinforcementFactor
//
// The product is clamped to [0,1]. Pure: callers supply elapsed time, no
// clock is read here.
func Score(base float64, elapsed time.Duration, accessCount int, tier Tier) float64 {
	if base < 0 {
		base = 0
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if accessCount < 0 {
		accessCount = 0
	}

	days := elapsed.Hours() / 24
	decayed := base * math.Exp(-DecayRate(tier)*days)
	reinforcement := 1 + math.Log(1+float64(accessCount))*ReinforcementFactor

	score := decayed * reinforcement
	if score > 1 {
		return 1
	}
	if score < 0 {
		return 0
	}
	return score
}

// ItemScore returns the item's current importance at now.
func ItemScore(it *Item, now time.Time) float64 {
	return Score(it.Importance, it.Age(now), it.AccessCount, TierWorking)
}

// SessionScore returns the session's current importance at now.
func SessionScore(s *Session, now time.Time) float64 {
	return Score(s.Importance, s.Age(now), s.AccessCount, TierSession)
}
