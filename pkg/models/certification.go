package models

import "time"

// Level is a certification tier. The graph is strictly linear.
type Level string

const (
	LevelBeginner     Level = "beginner"
	LevelIntermediate Level = "intermediate"
	LevelMaster       Level = "master"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	return l == LevelBeginner || l == LevelIntermediate || l == LevelMaster
}

// Prerequisite returns the level whose certificate is required before l.
// The bool is false for beginner.
func (l Level) Prerequisite() (Level, bool) {
	switch l {
	case LevelIntermediate:
		return LevelBeginner, true
	case LevelMaster:
		return LevelIntermediate, true
	}
	return "", false
}

// Certificate is collaborator data: {user_id, slug, expires_at}.
type Certificate struct {
	UserID    string    `json:"user_id" dynamodbav:"user_id"`
	Level     Level     `json:"slug" dynamodbav:"level"`
	IssuedAt  time.Time `json:"issued_at" dynamodbav:"issued_at"`
	ExpiresAt time.Time `json:"expires_at" dynamodbav:"expires_at"`
}

// ValidAt reports whether the certificate has not expired at t.
func (c Certificate) ValidAt(t time.Time) bool {
	return t.Before(c.ExpiresAt)
}

// QuizAttempt is collaborator data: {user_id, level, passed, attempted_at}.
type QuizAttempt struct {
	AttemptID   string    `json:"attempt_id" dynamodbav:"attempt_id"`
	UserID      string    `json:"user_id" dynamodbav:"user_id"`
	Level       Level     `json:"level" dynamodbav:"level"`
	Passed      bool      `json:"passed" dynamodbav:"passed"`
	AttemptedAt time.Time `json:"attempted_at" dynamodbav:"attempted_at"`
}
