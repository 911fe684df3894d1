package entitlement

import (
	"errors"
	"fmt"
	"time"

	"github.com/chris/coin-settlement/pkg/models"
)

var (
	ErrPrerequisiteNotMet = errors.New("prerequisite not met")
	ErrCoolingDown        = errors.New("exam cooling down")
	ErrInvalidLevel       = errors.New("invalid level")
	ErrInvalidCost        = errors.New("invalid action cost")

	// ErrDemoted matches a PrerequisiteError raised after the failure cascade
	// sent the user back to the lower level.
	ErrDemoted = errors.New("demoted to lower level")
)

// PrerequisiteError names the level whose certificate is missing or expired.
type PrerequisiteError struct {
	Level   models.Level
	Missing models.Level
	// Demoted is true when the user also hit the consecutive-failure threshold.
	Demoted bool
}

func (e *PrerequisiteError) Error() string {
	if e.Demoted {
		return fmt.Sprintf("demoted from %s: %s certificate must be re-earned", e.Level, e.Missing)
	}
	return fmt.Sprintf("%s requires a valid %s certificate", e.Level, e.Missing)
}

func (e *PrerequisiteError) Unwrap() error {
	return ErrPrerequisiteNotMet
}

func (e *PrerequisiteError) Is(target error) bool {
	return e.Demoted && target == ErrDemoted
}

// CooldownError is returned while a user waits out the cooldown after
// repeated failures.
type CooldownError struct {
	Level    models.Level
	Failures int
	RetryAt  time.Time
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%d consecutive %s failures, retry after %s", e.Failures, e.Level, e.RetryAt.Format(time.RFC3339))
}

func (e *CooldownError) Unwrap() error {
	return ErrCoolingDown
}
