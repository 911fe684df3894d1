// Package entitlement decides whether a user may start a metered action or a
// certification exam attempt.
package entitlement

import (
	"sort"
	"time"

	"github.com/chris/coin-settlement/pkg/models"
)

// DemotionThreshold is the number of consecutive failures at a level that
// triggers the cascade.
const DemotionThreshold = 3

// Decision is the result of a prerequisite check.
type Decision struct {
	Allowed             bool
	MissingPrerequisite models.Level
}

// CanTakeLevel checks the linear level graph. The prerequisite is satisfied
// only by a certificate that has not expired at now; a missing certificate
// counts as expired.
func CanTakeLevel(level models.Level, certificates []models.Certificate, now time.Time) Decision {
	prereq, ok := level.Prerequisite()
	if !ok {
		return Decision{Allowed: true}
	}
	if hasValid(certificates, prereq, now) {
		return Decision{Allowed: true}
	}
	return Decision{MissingPrerequisite: prereq}
}

// RetryState is a position in the failure cascade.
type RetryState string

const (
	StateEligible    RetryState = "eligible"
	StateCoolingDown RetryState = "cooling-down"
	StateDemoted     RetryState = "demoted"
)

// RetryAssessment describes where a user stands after their attempts at a level.
type RetryAssessment struct {
	State               RetryState
	RecommendedLevel    models.Level
	ConsecutiveFailures int
	// RetryAt is set once the threshold is reached and the user is not demoted.
	RetryAt time.Time
}

// AssessRetry runs the failure cascade for level. Attempts are scanned
// newest-first and counting stops at the first pass. When two attempts share
// a timestamp the passing one is treated as newer.
//
// At DemotionThreshold consecutive failures the user is demoted to the lower
// level if its certificate has expired. Otherwise they cool down until the
// last failure plus cooldown and may then retry the same level.
func AssessRetry(level models.Level, attempts []models.QuizAttempt, certificates []models.Certificate, now time.Time, cooldown time.Duration) RetryAssessment {
	failures, last := consecutiveFailures(level, attempts)
	res := RetryAssessment{
		State:               StateEligible,
		RecommendedLevel:    level,
		ConsecutiveFailures: failures,
	}
	if failures < DemotionThreshold {
		return res
	}

	if lower, ok := level.Prerequisite(); ok && !hasValid(certificates, lower, now) {
		res.State = StateDemoted
		res.RecommendedLevel = lower
		return res
	}

	res.RetryAt = last.Add(cooldown)
	if now.Before(res.RetryAt) {
		res.State = StateCoolingDown
	}
	return res
}

// consecutiveFailures returns the length of the newest run of failures at
// level and the time of the most recent one.
func consecutiveFailures(level models.Level, attempts []models.QuizAttempt) (int, time.Time) {
	sorted := make([]models.QuizAttempt, 0, len(attempts))
	for _, a := range attempts {
		if a.Level == level {
			sorted = append(sorted, a)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.AttemptedAt.Equal(b.AttemptedAt) {
			return a.Passed && !b.Passed
		}
		return a.AttemptedAt.After(b.AttemptedAt)
	})

	var n int
	var last time.Time
	for _, a := range sorted {
		if a.Passed {
			break
		}
		if n == 0 {
			last = a.AttemptedAt
		}
		n++
	}
	return n, last
}

func hasValid(certificates []models.Certificate, level models.Level, now time.Time) bool {
	for _, c := range certificates {
		if c.Level == level && c.ValidAt(now) {
			return true
		}
	}
	return false
}
