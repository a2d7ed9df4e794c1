package services

import (
	"math/big"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"dapp_payroll/models"
	"dapp_payroll/utils"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BatchSummary is the descriptive part of a payroll run sent to the ledger.
type BatchSummary struct {
	Title    string   `json:"title"`
	Category string   `json:"category"`
	Chain    string   `json:"chain"`
	Currency Currency `json:"currency"`
}

type Transition struct {
	From   State     `json:"from"`
	To     State     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Attempt is one in-memory distribution run. It does not survive a restart.
type Attempt struct {
	ID          string
	WorkspaceID string
	Account     string
	CreatedAt   time.Time

	running atomic.Bool

	mu                 sync.RWMutex
	session            Session
	summary            BatchSummary
	batch              *PaymentBatch
	state              State
	approvalTxHash     string
	distributionTxHash string
	failure            *DistributionError
	record             *models.PayrollRecord
	history            []Transition
	approvals          int
	now                func() time.Time
}

func newAttempt(session Session, batch *PaymentBatch, summary BatchSummary, now func() time.Time) *Attempt {
	return &Attempt{
		ID:          uuid.New().String(),
		WorkspaceID: session.WorkspaceID,
		Account:     session.Account,
		CreatedAt:   now(),
		session:     session,
		summary:     summary,
		batch:       batch,
		state:       StateIdle,
		now:         now,
	}
}

func (a *Attempt) State() State {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Failure is the error that moved the attempt to Failed, or nil.
func (a *Attempt) Failure() error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.failure == nil {
		return nil
	}
	return a.failure
}

func (a *Attempt) Batch() *PaymentBatch {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.batch
}

func (a *Attempt) DistributionTxHash() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.distributionTxHash
}

func (a *Attempt) Record() *models.PayrollRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.record
}

// holdsSlot reports whether a still owns its (workspace, account) slot. A failed
// attempt keeps it while its funds may have moved without a ledger record.
func (a *Attempt) holdsSlot() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch a.state {
	case StateSettled:
		return false
	case StateFailed:
		return a.outcomePending()
	}
	return true
}

// holdsAccount reports whether a may still submit a transaction from its signing
// account, or has one whose outcome is unknown.
func (a *Attempt) holdsAccount() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	switch a.state {
	case StateSettled, StatePersisting:
		return false
	case StateFailed:
		return a.failure != nil && a.failure.Kind == KindTimeoutAwaitingConfirmation
	}
	return true
}

// outcomePending is true after a ledger failure, or after a timeout on a submitted
// distribution. Callers hold a.mu.
func (a *Attempt) outcomePending() bool {
	if a.failure == nil {
		return false
	}
	kind := a.failure.Kind
	return kind.Soft() || (kind == KindTimeoutAwaitingConfirmation && a.distributionTxHash != "")
}

func (a *Attempt) lastActivity() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if n := len(a.history); n > 0 {
		return a.history[n-1].At
	}
	return a.CreatedAt
}

// refreshSession takes the caller's current credentials for later ledger writes.
func (a *Attempt) refreshSession(s Session) {
	a.mu.Lock()
	a.session.BearerToken = s.BearerToken
	a.session.Signature = s.Signature
	a.mu.Unlock()
}

func (a *Attempt) currentSession() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

func (a *Attempt) slotKey() string {
	return a.session.slotKey()
}

func (a *Attempt) accountKey() string {
	return strings.ToLower(a.Account)
}

func (a *Attempt) logger() *zap.Logger {
	return utils.Logger.With(
		zap.String("attempt_id", a.ID),
		zap.String("workspace_id", a.WorkspaceID),
		zap.String("account", a.Account))
}

func (a *Attempt) transition(to State, reason string) error {
	a.mu.Lock()
	from := a.state
	if !CanTransition(from, to) {
		a.mu.Unlock()
		return newError(KindInvalidTransition, "attempt %s cannot move from %s to %s", a.ID, from, to)
	}
	a.state = to
	if from == StateFailed {
		a.failure = nil
	}
	a.history = append(a.history, Transition{From: from, To: to, At: a.now(), Reason: reason})
	a.mu.Unlock()

	a.logger().Info("Distribution state changed",
		zap.String("from", string(from)),
		zap.String("state", string(to)),
		zap.String("reason", reason))
	return nil
}

// fail moves the attempt to Failed. The batch and any tx hashes stay on the attempt.
func (a *Attempt) fail(err *DistributionError) {
	a.mu.Lock()
	from := a.state
	if from.Terminal() {
		a.mu.Unlock()
		return
	}
	a.state = StateFailed
	a.failure = err
	a.history = append(a.history, Transition{From: from, To: StateFailed, At: a.now(), Reason: err.Error()})
	hash := a.distributionTxHash
	a.mu.Unlock()

	logger := a.logger().With(
		zap.String("from", string(from)),
		zap.String("kind", string(err.Kind)),
		zap.String("tx_hash", hash),
		zap.Error(err))
	if err.Kind.Soft() {
		logger.Warn("Distribution settled on chain but ledger write failed")
		return
	}
	logger.Error("Distribution failed")
}

func (a *Attempt) setApprovalTx(hash string) {
	a.mu.Lock()
	a.approvalTxHash = hash
	a.mu.Unlock()
}

func (a *Attempt) setDistributionTx(hash string) {
	a.mu.Lock()
	a.distributionTxHash = hash
	a.mu.Unlock()
}

func (a *Attempt) setRecord(rec *models.PayrollRecord) {
	a.mu.Lock()
	a.record = rec
	a.mu.Unlock()
}

func (a *Attempt) confirmApproval() {
	a.mu.Lock()
	a.approvals++
	a.mu.Unlock()
}

func (a *Attempt) approvalsConfirmed() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.approvals
}

// resetChainProgress forgets the previous run's transactions before a full retry.
// Only called for failures where the distribution is known not to have landed.
func (a *Attempt) resetChainProgress() {
	a.mu.Lock()
	a.approvalTxHash = ""
	a.distributionTxHash = ""
	a.approvals = 0
	a.mu.Unlock()
}

// AttemptSnapshot is a consistent, serialisable copy of an attempt.
type AttemptSnapshot struct {
	ID                 string                `json:"id"`
	WorkspaceID        string                `json:"workspace_id"`
	Account            string                `json:"account"`
	State              State                 `json:"state"`
	Summary            BatchSummary          `json:"summary"`
	EmployeeCount      int                   `json:"employee_count"`
	SalarySum          *big.Int              `json:"salary_sum"`
	Tax                *big.Int              `json:"tax"`
	TotalRequired      *big.Int              `json:"total_required"`
	ApprovalTxHash     string                `json:"approval_tx_hash,omitempty"`
	DistributionTxHash string                `json:"distribution_tx_hash,omitempty"`
	FailureKind        ErrorKind             `json:"failure_kind,omitempty"`
	FailureClass       ErrorClass            `json:"failure_class,omitempty"`
	FailureReason      string                `json:"failure_reason,omitempty"`
	Record             *models.PayrollRecord `json:"record,omitempty"`
	History            []Transition          `json:"history"`
	CreatedAt          time.Time             `json:"created_at"`
}

func (a *Attempt) Snapshot() AttemptSnapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := AttemptSnapshot{
		ID:                 a.ID,
		WorkspaceID:        a.WorkspaceID,
		Account:            a.Account,
		State:              a.state,
		Summary:            a.summary,
		ApprovalTxHash:     a.approvalTxHash,
		DistributionTxHash: a.distributionTxHash,
		Record:             a.record,
		History:            append([]Transition(nil), a.history...),
		CreatedAt:          a.CreatedAt,
	}
	if a.batch != nil {
		snap.EmployeeCount = a.batch.EmployeeCount()
		snap.SalarySum = new(big.Int).Set(a.batch.SalarySum)
		snap.Tax = new(big.Int).Set(a.batch.Tax)
		snap.TotalRequired = new(big.Int).Set(a.batch.TotalRequired)
	}
	if a.failure != nil {
		snap.FailureKind = a.failure.Kind
		snap.FailureClass = a.failure.Kind.Class()
		snap.FailureReason = a.failure.Error()
	}
	return snap
}
