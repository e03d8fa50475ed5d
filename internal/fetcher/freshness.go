package fetcher

import "time"

const (
	freshHours = 2.0
	staleHours = 12.0
	minScore   = 0.1
	maxScore   = 1.0
)

// Freshness maps an article age to [0.1, 1.0]: 1.0 up to two hours, 0.1 from
// twelve hours on, linear in between (0.09 per hour).
func Freshness(age time.Duration) float64 {
	h := age.Hours()
	if h <= freshHours {
		return maxScore
	}
	if h >= staleHours {
		return minScore
	}
	slope := (maxScore - minScore) / (staleHours - freshHours)
	s := maxScore - slope*(h-freshHours)
	if s < minScore {
		return minScore
	}
	if s > maxScore {
		return maxScore
	}
	return s
}
