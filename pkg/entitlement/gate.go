package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/chris/coin-settlement/pkg/audit"
	"github.com/chris/coin-settlement/pkg/ledger"
	"github.com/chris/coin-settlement/pkg/metrics"
	"github.com/chris/coin-settlement/pkg/models"
	"github.com/chris/coin-settlement/pkg/storage"
	"github.com/google/uuid"
)

// Checks reported to metrics.
const (
	checkPrerequisite = "prerequisite"
	checkCascade      = "failure_cascade"
	checkExamBalance  = "exam_balance"
	checkActionCost   = "action_balance"
)

// Ledger is the balance surface the gate reads and debits.
type Ledger interface {
	GetBalance(ctx context.Context, userID string) (*models.Balance, error)
	Debit(ctx context.Context, userID string, category models.Category, amount int64, ref ledger.Reference) (*models.Balance, error)
}

// Policy holds the tunable exam rules.
type Policy struct {
	AttemptCost         int64
	Cooldown            time.Duration
	CertificateValidity time.Duration
}

// PolicySource returns the policy in force. Each gate operation reads it once.
type PolicySource func(ctx context.Context) Policy

// Options configures a Gate. When Policy is nil the static fields apply.
type Options struct {
	AttemptCost         int64
	Cooldown            time.Duration
	CertificateValidity time.Duration
	Policy              PolicySource
	Audit               audit.Emitter
	Metrics             *metrics.Metrics
	Logger              *slog.Logger
	Now                 func() time.Time
}

type Gate struct {
	ledger  Ledger
	store   storage.CertificationStore
	policy  PolicySource
	audit   audit.Emitter
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewGate(l Ledger, store storage.CertificationStore, opts Options) *Gate {
	if opts.Audit == nil {
		opts.Audit = audit.Discard{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Policy == nil {
		static := Policy{
			AttemptCost:         opts.AttemptCost,
			Cooldown:            opts.Cooldown,
			CertificateValidity: opts.CertificateValidity,
		}
		opts.Policy = func(context.Context) Policy { return static }
	}
	return &Gate{
		ledger:  l,
		store:   store,
		policy:  opts.Policy,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     opts.Now,
	}
}

// AuthorizeExamAttempt runs the prerequisite check, then the failure cascade,
// then the exam balance check, and returns the first failure.
func (g *Gate) AuthorizeExamAttempt(ctx context.Context, userID string, level models.Level) (*RetryAssessment, error) {
	return g.authorizeExamAttempt(ctx, userID, level, g.policy(ctx))
}

func (g *Gate) authorizeExamAttempt(ctx context.Context, userID string, level models.Level, policy Policy) (*RetryAssessment, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, level)
	}
	now := g.now()

	certs, err := g.store.ListCertificates(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list certificates: %w", err)
	}
	attempts, err := g.store.ListAttempts(ctx, userID, level)
	if err != nil {
		return nil, fmt.Errorf("failed to list attempts: %w", err)
	}
	assessment := AssessRetry(level, attempts, certs, now, policy.Cooldown)

	// 1. Prerequisite.
	decision := CanTakeLevel(level, certs, now)
	g.metrics.GateDecision(checkPrerequisite, decision.Allowed)
	if !decision.Allowed {
		perr := &PrerequisiteError{
			Level:   level,
			Missing: decision.MissingPrerequisite,
			Demoted: assessment.State == StateDemoted,
		}
		g.emit(ctx, audit.New(audit.TypePrerequisiteNotMet, audit.SeverityLow, userID, perr.Error()).
			With("level", string(level)).
			With("missing", string(perr.Missing)).
			With("demoted", strconv.FormatBool(perr.Demoted)))
		return &assessment, perr
	}

	// 2. Failure cascade.
	g.metrics.GateDecision(checkCascade, assessment.State == StateEligible)
	switch assessment.State {
	case StateDemoted:
		// The lower level is the prerequisite, so step 1 normally catches this.
		return &assessment, &PrerequisiteError{Level: level, Missing: assessment.RecommendedLevel, Demoted: true}
	case StateCoolingDown:
		cerr := &CooldownError{Level: level, Failures: assessment.ConsecutiveFailures, RetryAt: assessment.RetryAt}
		g.emit(ctx, audit.New(audit.TypeExamCoolingDown, audit.SeverityLow, userID, cerr.Error()).
			With("level", string(level)).
			With("retry_at", assessment.RetryAt.UTC().Format(time.RFC3339)))
		return &assessment, cerr
	}

	// 3. Exam balance.
	if err := g.checkBalance(ctx, userID, models.CategoryExam, policy.AttemptCost, checkExamBalance); err != nil {
		return &assessment, err
	}
	return &assessment, nil
}

// ExamTicket is a paid-for exam attempt.
type ExamTicket struct {
	AttemptID string
	Level     models.Level
	Cost      int64
	Balance   *models.Balance
}

// StartExamAttempt authorizes an attempt and debits its cost from the exam
// category. The ledger row references the attempt id.
func (g *Gate) StartExamAttempt(ctx context.Context, userID string, level models.Level) (*ExamTicket, error) {
	policy := g.policy(ctx)
	if _, err := g.authorizeExamAttempt(ctx, userID, level, policy); err != nil {
		return nil, err
	}

	cost := policy.AttemptCost
	ticket := &ExamTicket{AttemptID: uuid.NewString(), Level: level, Cost: cost}
	if cost == 0 {
		b, err := g.ledger.GetBalance(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to get balance: %w", err)
		}
		ticket.Balance = b
		return ticket, nil
	}

	b, err := g.ledger.Debit(ctx, userID, models.CategoryExam, cost, ledger.Reference{
		Type:        models.ReferenceExamAttempt,
		ID:          ticket.AttemptID,
		Description: string(level) + " exam attempt",
	})
	if err != nil {
		g.debitFailed(ctx, userID, models.CategoryExam, cost, err)
		return nil, err
	}
	ticket.Balance = b

	g.logger.Info("exam attempt started", "user_id", userID, "level", level, "attempt_id", ticket.AttemptID)
	return ticket, nil
}

// AuthorizeAction checks that the category balance covers cost.
func (g *Gate) AuthorizeAction(ctx context.Context, userID string, category models.Category, cost int64) error {
	if err := validateAction(category, cost); err != nil {
		return err
	}
	return g.checkBalance(ctx, userID, category, cost, checkActionCost)
}

// ConsumeAction debits cost from the category for one metered action.
func (g *Gate) ConsumeAction(ctx context.Context, userID string, category models.Category, cost int64, actionID string) (*models.Balance, error) {
	if err := validateAction(category, cost); err != nil {
		return nil, err
	}
	if actionID == "" {
		actionID = uuid.NewString()
	}
	b, err := g.ledger.Debit(ctx, userID, category, cost, ledger.Reference{
		Type:        models.ReferenceAction,
		ID:          actionID,
		Description: string(category) + " action",
	})
	g.metrics.GateDecision(checkActionCost, err == nil)
	if err != nil {
		g.debitFailed(ctx, userID, category, cost, err)
		return nil, err
	}
	return b, nil
}

// RecordAttempt stores a finished attempt. A pass issues a certificate for
// the level valid for the configured period, replacing any older one.
func (g *Gate) RecordAttempt(ctx context.Context, attempt models.QuizAttempt) (*models.Certificate, error) {
	if !attempt.Level.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, attempt.Level)
	}
	if attempt.UserID == "" {
		return nil, fmt.Errorf("user is required")
	}
	now := g.now().UTC()
	if attempt.AttemptID == "" {
		attempt.AttemptID = uuid.NewString()
	}
	if attempt.AttemptedAt.IsZero() {
		attempt.AttemptedAt = now
	}

	if err := g.store.RecordAttempt(ctx, &attempt); err != nil {
		return nil, fmt.Errorf("failed to record attempt: %w", err)
	}
	if !attempt.Passed {
		return nil, nil
	}

	cert := &models.Certificate{
		UserID:    attempt.UserID,
		Level:     attempt.Level,
		IssuedAt:  now,
		ExpiresAt: now.Add(g.policy(ctx).CertificateValidity),
	}
	if err := g.store.UpsertCertificate(ctx, cert); err != nil {
		return nil, fmt.Errorf("failed to issue certificate: %w", err)
	}
	g.logger.Info("certificate issued", "user_id", cert.UserID, "level", cert.Level, "expires_at", cert.ExpiresAt)
	return cert, nil
}

func (g *Gate) checkBalance(ctx context.Context, userID string, category models.Category, cost int64, check string) error {
	b, err := g.ledger.GetBalance(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to get balance: %w", err)
	}
	ok := b.Get(category) >= cost
	g.metrics.GateDecision(check, ok)
	if !ok {
		g.emitInsufficient(ctx, userID, category, cost, b.Get(category))
		return fmt.Errorf("%w: %s has %d, needs %d", storage.ErrInsufficientFunds, category, b.Get(category), cost)
	}
	return nil
}

func (g *Gate) debitFailed(ctx context.Context, userID string, category models.Category, cost int64, err error) {
	if errors.Is(err, storage.ErrInsufficientFunds) {
		g.emitInsufficient(ctx, userID, category, cost, -1)
		return
	}
	if errors.Is(err, storage.ErrConcurrencyConflict) {
		g.emit(ctx, audit.New(audit.TypeConcurrencyConflict, audit.SeverityLow, userID, "balance changed during debit").
			With("category", string(category)))
		return
	}
	g.logger.Error("debit failed", "user_id", userID, "category", category, "error", err)
}

func (g *Gate) emitInsufficient(ctx context.Context, userID string, category models.Category, cost, have int64) {
	e := audit.New(audit.TypeInsufficientFunds, audit.SeverityMedium, userID, "insufficient "+string(category)+" coins").
		With("category", string(category)).
		With("cost", strconv.FormatInt(cost, 10))
	if have >= 0 {
		e = e.With("balance", strconv.FormatInt(have, 10))
	}
	g.emit(ctx, e)
}

func (g *Gate) emit(ctx context.Context, e audit.Event) {
	g.audit.Emit(ctx, e)
}

func validateAction(category models.Category, cost int64) error {
	if !category.Valid() {
		return fmt.Errorf("%w: %q", ledger.ErrInvalidCategory, category)
	}
	if cost <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidCost, cost)
	}
	return nil
}
