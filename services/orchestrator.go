package services

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"dapp_payroll/models"
	"dapp_payroll/utils"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// LedgerPersister records a confirmed distribution off-chain.
type LedgerPersister interface {
	Persist(ctx context.Context, session Session, txHash string, summary LedgerSummary) (*models.PayrollRecord, error)
}

type OrchestratorConfig struct {
	// ConfirmationTimeout bounds every receipt wait.
	ConfirmationTimeout time.Duration
	// Retention is how long finished attempts stay readable by id.
	Retention time.Duration
	Now       func() time.Time
}

// Orchestrator sequences approval, distribution, confirmation and ledger persistence
// for payment batches. Each attempt runs on a single goroutine and blocks on one
// external event at a time.
type Orchestrator struct {
	chain    Chain
	gate     *AllowanceGate
	ledger   LedgerPersister
	cfg      OrchestratorConfig
	registry *attemptRegistry
	wg       sync.WaitGroup
}

func NewOrchestrator(chain Chain, gate *AllowanceGate, ledger LedgerPersister, cfg OrchestratorConfig) *Orchestrator {
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = 3 * time.Minute
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 24 * time.Hour
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Orchestrator{
		chain:    chain,
		gate:     gate,
		ledger:   ledger,
		cfg:      cfg,
		registry: newAttemptRegistry(),
	}
}

// Start registers a new attempt in Idle for the session's (workspace, account).
// While an earlier attempt still holds the slot, including a failed one whose
// transfer may have landed, Start fails with AttemptInProgress naming it.
func (o *Orchestrator) Start(session Session, batch *PaymentBatch, summary BatchSummary) (*Attempt, error) {
	if batch == nil || len(batch.Lines) == 0 {
		return nil, newError(KindEmptySelection, "empty payment batch")
	}
	if summary.Currency == "" {
		summary.Currency = CurrencyUSDC
	}
	o.Prune()

	a := newAttempt(session, batch, summary, o.cfg.Now)
	if err := o.registry.claim(a, nil); err != nil {
		return nil, err
	}
	a.logger().Info("Distribution attempt created",
		zap.Int("employee_count", batch.EmployeeCount()),
		zap.String("total_required", batch.TotalRequired.String()),
		zap.String("currency", string(summary.Currency)))
	return a, nil
}

// Get looks an attempt up by id.
func (o *Orchestrator) Get(id string) (*Attempt, error) {
	a, ok := o.registry.get(id)
	if !ok {
		return nil, newError(KindAttemptNotFound, "attempt %s not found", id)
	}
	return a, nil
}

// Find is Get restricted to attempts owned by session's workspace and account.
func (o *Orchestrator) Find(id string, session Session) (*Attempt, error) {
	a, err := o.Get(id)
	if err != nil {
		return nil, err
	}
	if a.WorkspaceID != session.WorkspaceID || !SameAddress(a.Account, session.Account) {
		return nil, newError(KindAttemptNotFound, "attempt %s not found", id)
	}
	return a, nil
}

// Prune forgets finished attempts older than the retention period.
func (o *Orchestrator) Prune() {
	if n := o.registry.prune(o.cfg.Now().Add(-o.cfg.Retention)); n > 0 {
		utils.Logger.Debug("Pruned finished distribution attempts", zap.Int("count", n))
	}
}

// Live returns the attempt for session's (workspace, account), if any.
func (o *Orchestrator) Live(session Session) (*Attempt, bool) {
	return o.registry.live(session.slotKey())
}

// Run drives a until it is Settled or Failed and returns its failure, if any.
func (o *Orchestrator) Run(ctx context.Context, a *Attempt) error {
	if !a.running.CompareAndSwap(false, true) {
		return newError(KindAttemptInProgress, "attempt %s is already running", a.ID)
	}
	defer a.running.Store(false)

	for {
		var err error
		switch a.State() {
		case StateIdle:
			err = a.transition(StateChecking, "submitted")
		case StateChecking:
			err = o.check(ctx, a)
		case StateApproving:
			err = o.approve(ctx, a)
		case StateApprovalConfirmed:
			err = a.transition(StateChecking, "re-validate allowance after approval")
		case StateDistributing:
			err = o.distribute(ctx, a)
		case StateConfirmed:
			err = a.transition(StatePersisting, "distribution confirmed")
		case StatePersisting:
			err = o.persist(ctx, a)
		case StateSettled:
			return nil
		case StateFailed:
			return a.Failure()
		}
		if err != nil {
			de := asDistributionError(err)
			a.fail(de)
			return de
		}
	}
}

// Go runs a on its own goroutine. Wait blocks until all such runs return.
func (o *Orchestrator) Go(ctx context.Context, a *Attempt) {
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				a.logger().Error("Distribution run panicked",
					zap.String("panic_stack", string(debug.Stack())),
					zap.Any("panic", r))
				a.fail(newError(KindInvalidTransition, "panic: %v", r))
			}
		}()
		_ = o.Run(ctx, a)
	}()
}

func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Retry re-arms a Failed attempt under the caller's current session. A ledger
// failure retries persistence only; a confirmation timeout with a submitted
// distribution resumes waiting on that same transaction; anything else restarts
// from Idle with the retained batch. The caller runs the attempt afterwards.
func (o *Orchestrator) Retry(id string, session Session) (*Attempt, error) {
	a, err := o.Find(id, session)
	if err != nil {
		return nil, err
	}
	err = o.registry.claim(a, func() error {
		if a.running.Load() {
			return inProgress(a, "attempt %s is still running", a.ID)
		}
		if a.State() != StateFailed {
			return newError(KindInvalidTransition, "attempt %s is %s, only Failed attempts can be retried", a.ID, a.State())
		}
		a.refreshSession(session)
		kind := KindOf(a.Failure())
		hash := a.DistributionTxHash()
		switch {
		case kind == KindLedgerWriteError:
			return a.transition(StatePersisting, "retry ledger write for "+hash)
		case kind == KindTimeoutAwaitingConfirmation && hash != "":
			return a.transition(StateDistributing, "resume waiting for "+hash)
		default:
			a.resetChainProgress()
			return a.transition(StateIdle, fmt.Sprintf("retry after %s", kind))
		}
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Abandon drops an attempt that has nothing in flight. Attempts whose funds may
// have moved without a ledger record are kept.
func (o *Orchestrator) Abandon(id string) error {
	a, err := o.Get(id)
	if err != nil {
		return err
	}
	return o.registry.release(a, func() error {
		if a.running.Load() {
			return inProgress(a, "attempt %s is running", a.ID)
		}
		state := a.State()
		switch state {
		case StateIdle, StateSettled:
			return nil
		case StateFailed:
			kind := KindOf(a.Failure())
			if kind.Soft() {
				return newError(KindInvalidTransition, "distribution %s has no ledger record yet", a.DistributionTxHash())
			}
			if kind == KindTimeoutAwaitingConfirmation && a.DistributionTxHash() != "" {
				return newError(KindInvalidTransition, "outcome of distribution %s is unknown", a.DistributionTxHash())
			}
			return nil
		}
		return newError(KindInvalidTransition, "attempt %s is %s and cannot be abandoned", a.ID, state)
	})
}

func (o *Orchestrator) check(ctx context.Context, a *Attempt) error {
	if !a.currentSession().Connected(o.cfg.Now()) {
		return newError(KindWalletNotConnected, "no connected wallet for workspace %s", a.WorkspaceID)
	}

	paused, err := o.chain.Paused(ctx)
	if err != nil {
		a.logger().Warn("Failed to read contract pause state, continuing", zap.Error(err))
	} else if paused {
		return newError(KindContractPaused, "payroll contract is paused")
	}

	batch := a.Batch()
	state := o.gate.Query(ctx, a.summary.Currency, a.Account)
	if !SufficientBalance(state.Balance, batch.TotalRequired) {
		return newError(KindInsufficientBalance, "balance %s below required %s", state.Balance, batch.TotalRequired)
	}
	if !state.NeedsApproval(batch.TotalRequired) {
		return a.transition(StateDistributing, "allowance sufficient")
	}
	if a.approvalsConfirmed() > 0 {
		return newError(KindApprovalReverted,
			"allowance %s still below %s after confirmed approval", state.Allowance, batch.TotalRequired)
	}
	return a.transition(StateApproving, fmt.Sprintf("allowance %s below %s", state.Allowance, batch.TotalRequired))
}

func (o *Orchestrator) approve(ctx context.Context, a *Attempt) error {
	batch := a.Batch()
	hash, err := o.chain.Approve(ctx, a.summary.Currency, o.gate.Spender(), batch.TotalRequired)
	if hash != "" {
		a.setApprovalTx(hash)
	}
	if err != nil {
		return submitError(KindApprovalRejected, hash, err)
	}
	a.logger().Info("Approval submitted", zap.String("tx_hash", hash), zap.String("amount", batch.TotalRequired.String()))

	receipt, err := o.awaitReceipt(ctx, hash, KindApprovalRejected)
	if err != nil {
		return err
	}
	if !receipt.Succeeded {
		return newError(KindApprovalReverted, "approval %s reverted", hash)
	}
	o.gate.Invalidate(a.summary.Currency, a.Account)
	a.confirmApproval()
	return a.transition(StateApprovalConfirmed, "approval "+hash+" mined")
}

func (o *Orchestrator) distribute(ctx context.Context, a *Attempt) error {
	batch := a.Batch()
	hash := a.DistributionTxHash()
	if hash == "" {
		var err error
		hash, err = o.chain.DistributePayroll(ctx, a.summary.Currency, batch.Lines, batch.Tax)
		if hash != "" {
			a.setDistributionTx(hash)
		}
		if err != nil {
			return submitError(KindDistributionRejected, hash, err)
		}
		a.logger().Info("Distribution submitted", zap.String("tx_hash", hash))
	}

	receipt, err := o.awaitReceipt(ctx, hash, KindDistributionRejected)
	if err != nil {
		return err
	}
	if !receipt.Succeeded {
		return newError(KindDistributionReverted, "distribution %s reverted", hash)
	}
	o.gate.Invalidate(a.summary.Currency, a.Account)
	return a.transition(StateConfirmed, fmt.Sprintf("distribution %s mined in block %d", hash, receipt.BlockNumber))
}

func (o *Orchestrator) persist(ctx context.Context, a *Attempt) error {
	batch := a.Batch()
	hash := a.DistributionTxHash()
	rec, err := o.ledger.Persist(ctx, a.currentSession(), hash, LedgerSummary{
		BatchSummary:  a.summary,
		WorkspaceID:   a.WorkspaceID,
		TotalSalary:   ToDecimal(batch.SalarySum),
		Tax:           ToDecimal(batch.Tax),
		EmployeeCount: batch.EmployeeCount(),
	})
	if err != nil {
		if KindOf(err) == KindLedgerWriteError {
			return err
		}
		return wrapError(KindLedgerWriteError, err)
	}
	a.setRecord(rec)
	return a.transition(StateSettled, "ledger record stored")
}

// submitError classifies a failed submission. A transaction that was signed but not
// confirmed as broadcast may still land, so it is treated like a missing receipt.
func submitError(rejected ErrorKind, hash string, err error) *DistributionError {
	var sendErr *SendError
	if hash != "" && errors.As(err, &sendErr) {
		return newError(KindTimeoutAwaitingConfirmation, "broadcast of %s unconfirmed: %v", hash, err)
	}
	return wrapError(rejected, err)
}

// awaitReceipt waits for hash within the confirmation timeout. Not observing a
// receipt is never treated as failure of the transaction itself; only a node
// refusing the transaction outright is reported as dropped.
func (o *Orchestrator) awaitReceipt(ctx context.Context, hash string, dropped ErrorKind) (*Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.ConfirmationTimeout)
	defer cancel()

	receipt, err := o.chain.WaitForReceipt(ctx, hash)
	if err != nil {
		var droppedErr *TxDroppedError
		if errors.As(err, &droppedErr) {
			return nil, wrapError(dropped, err)
		}
		return nil, newError(KindTimeoutAwaitingConfirmation, "no receipt for %s: %v", hash, err)
	}
	if receipt == nil {
		return nil, newError(KindTimeoutAwaitingConfirmation, "no receipt for %s", hash)
	}
	return receipt, nil
}

func asDistributionError(err error) *DistributionError {
	var de *DistributionError
	if e, ok := err.(*DistributionError); ok {
		de = e
	} else if kind := KindOf(err); kind != "" {
		de = wrapError(kind, err)
	} else {
		de = wrapError(KindInvalidTransition, err)
	}
	return de
}
