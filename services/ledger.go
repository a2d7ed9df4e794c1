package services

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"dapp_payroll/models"
	"dapp_payroll/utils"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// LedgerSummary is what the ledger records about a confirmed distribution.
type LedgerSummary struct {
	BatchSummary
	WorkspaceID   string
	TotalSalary   decimal.Decimal
	Tax           decimal.Decimal
	EmployeeCount int
}

// LedgerReconciler persists confirmed distributions at most once per tx hash:
// hashes already settled in this process are answered from memory, and the ledger
// is asked for an existing record before a new one is created.
type LedgerReconciler struct {
	client   LedgerClient
	lockWait time.Duration
	settled  sync.Map
}

func NewLedgerReconciler(client LedgerClient) *LedgerReconciler {
	return &LedgerReconciler{
		client:   client,
		lockWait: 30 * time.Second,
	}
}

func (r *LedgerReconciler) Persist(ctx context.Context, session Session, txHash string, summary LedgerSummary) (*models.PayrollRecord, error) {
	if txHash == "" {
		return nil, newError(KindLedgerWriteError, "missing distribution tx hash")
	}
	key := strings.ToLower(txHash)
	if rec, ok := r.settled.Load(key); ok {
		return rec.(*models.PayrollRecord), nil
	}

	logger := utils.Logger.With(zap.String("tx_hash", txHash), zap.String("workspace_id", summary.WorkspaceID))

	var rec *models.PayrollRecord
	locked, err := utils.WithKeyLock(ctx, "ledger:"+key, r.lockWait, func() error {
		if cached, ok := r.settled.Load(key); ok {
			rec = cached.(*models.PayrollRecord)
			return nil
		}

		existing, err := r.client.GetPayrollByTx(ctx, session.BearerToken, txHash)
		switch {
		case err == nil:
			logger.Info("Ledger already holds payroll record")
			rec = existing
		case errors.Is(err, ErrRecordNotFound):
			rec, err = r.client.CreatePayrollRecord(ctx, session.BearerToken, CreatePayrollRequest{
				Title:         summary.Title,
				Category:      summary.Category,
				Chain:         summary.Chain,
				Currency:      string(summary.Currency),
				TotalSalary:   json.Number(summary.TotalSalary.String()),
				Tax:           json.Number(summary.Tax.String()),
				Tx:            txHash,
				WorkspaceID:   summary.WorkspaceID,
				EmployeeCount: summary.EmployeeCount,
			})
			if err != nil {
				return errors.Wrap(err, "create payroll record")
			}
			logger.Info("Payroll record created")
		default:
			return errors.Wrap(err, "look up payroll record")
		}
		r.settled.Store(key, rec)
		return nil
	})
	if err != nil {
		return nil, wrapError(KindLedgerWriteError, err)
	}
	if !locked {
		return nil, newError(KindLedgerWriteError, "another ledger write for %s is in progress", txHash)
	}
	return rec, nil
}
