package exams

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/chris/coin-settlement/pkg/api"
	"github.com/chris/coin-settlement/pkg/entitlement"
	"github.com/chris/coin-settlement/pkg/handlers/respond"
	"github.com/chris/coin-settlement/pkg/mapping"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/google/uuid"
)

// Gate is the entitlement surface the handlers drive.
type Gate interface {
	AuthorizeExamAttempt(ctx context.Context, userID string, level models.Level) (*entitlement.RetryAssessment, error)
	StartExamAttempt(ctx context.Context, userID string, level models.Level) (*entitlement.ExamTicket, error)
	RecordAttempt(ctx context.Context, attempt models.QuizAttempt) (*models.Certificate, error)
	ConsumeAction(ctx context.Context, userID string, category models.Category, cost int64, actionID string) (*models.Balance, error)
}

// ExamsHandler holds the dependencies for exam and metered action handlers.
type ExamsHandler struct {
	Gate Gate
}

// NewExamsHandler creates a new ExamsHandler.
func NewExamsHandler(g Gate) *ExamsHandler {
	return &ExamsHandler{Gate: g}
}

// GetExamEligibility reports whether the user may attempt the level now.
// A refusal is still a 403 so clients can tell the reason from the code.
func (h *ExamsHandler) GetExamEligibility(w http.ResponseWriter, r *http.Request, userId string, level string) {
	lvl := models.Level(level)
	assessment, err := h.Gate.AuthorizeExamAttempt(r.Context(), userId, lvl)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiExamEligibility(lvl, assessment))
}

// StartExamAttempt authorizes and pays for one attempt.
func (h *ExamsHandler) StartExamAttempt(w http.ResponseWriter, r *http.Request, userId string, level string) {
	ticket, err := h.Gate.StartExamAttempt(r.Context(), userId, models.Level(level))
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusCreated, mapping.ToApiExamTicket(ticket))
}

// RecordExamResult stores a finished attempt and returns the certificate a
// pass issues.
func (h *ExamsHandler) RecordExamResult(w http.ResponseWriter, r *http.Request, userId string, level string) {
	var body api.NewExamResult
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	attempt := models.QuizAttempt{AttemptID: uuid.NewString(), UserID: userId, Level: models.Level(level), Passed: body.Passed}
	if body.AttemptId != nil && *body.AttemptId != "" {
		attempt.AttemptID = *body.AttemptId
	}

	cert, err := h.Gate.RecordAttempt(r.Context(), attempt)
	if err != nil {
		respond.Error(w, r, err)
		return
	}

	out := api.ExamResult{AttemptId: attempt.AttemptID, Passed: attempt.Passed}
	if cert != nil {
		out.Certificate = mapping.ToApiCertificate(cert)
	}
	respond.JSON(w, http.StatusCreated, out)
}

// ConsumeAction debits the cost of one metered action.
func (h *ExamsHandler) ConsumeAction(w http.ResponseWriter, r *http.Request, userId string) {
	var body api.NewAction
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond.BadRequest(w, fmt.Sprintf("Invalid request body: %v", err))
		return
	}

	var actionID string
	if body.ActionId != nil {
		actionID = *body.ActionId
	}

	b, err := h.Gate.ConsumeAction(r.Context(), userId, models.Category(body.Category), body.Cost, actionID)
	if err != nil {
		respond.Error(w, r, err)
		return
	}
	respond.JSON(w, http.StatusOK, mapping.ToApiBalance(b))
}
