package services

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"dapp_payroll/models"

	"github.com/pkg/errors"
)

const (
	testAccount = "0x00000000000000000000000000000000000000a1"
	testSpender = "0x00000000000000000000000000000000000000c0"
)

// fakeChain is an in-memory token with allowance and balance per owner.
// Receipts are answered from receipts, or block on hold when set.
type fakeChain struct {
	mu sync.Mutex

	allowance *big.Int
	balance   *big.Int

	allowanceErr error
	balanceErr   error
	approveErr   error
	distErr      error
	paused       bool
	pausedErr    error
	// sendFails makes the next submission sign but fail to broadcast.
	sendFails bool
	// dropped makes WaitForReceipt report the transaction as refused by the node.
	dropped bool

	revertApprove bool
	revertDist    bool
	// approveNoop confirms approvals without changing the allowance.
	approveNoop bool
	// hold, when non-nil, blocks WaitForReceipt until closed or ctx ends.
	hold chan struct{}
	// noReceipt makes WaitForReceipt wait for ctx to end.
	noReceipt bool

	allowanceReads int
	balanceReads   int
	approvals      []*big.Int
	distributions  [][]PaymentLine
	nextTx         int
}

func newFakeChain(allowance, balance int64) *fakeChain {
	return &fakeChain{
		allowance: big.NewInt(allowance),
		balance:   big.NewInt(balance),
	}
}

func (f *fakeChain) Allowance(ctx context.Context, token Currency, owner, spender string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.allowanceReads++
	if f.allowanceErr != nil {
		return nil, f.allowanceErr
	}
	return new(big.Int).Set(f.allowance), nil
}

func (f *fakeChain) BalanceOf(ctx context.Context, token Currency, owner string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balanceReads++
	if f.balanceErr != nil {
		return nil, f.balanceErr
	}
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeChain) Approve(ctx context.Context, token Currency, spender string, amount *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.approveErr != nil {
		return "", f.approveErr
	}
	f.nextTx++
	hash := fmt.Sprintf("0xapprove%d", f.nextTx)
	if f.sendFails {
		f.sendFails = false
		return hash, &SendError{Hash: hash, Err: errRPC}
	}
	f.approvals = append(f.approvals, new(big.Int).Set(amount))
	if !f.revertApprove && !f.approveNoop {
		f.allowance = new(big.Int).Set(amount)
	}
	return hash, nil
}

func (f *fakeChain) DistributePayroll(ctx context.Context, token Currency, lines []PaymentLine, tax *big.Int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.distErr != nil {
		return "", f.distErr
	}
	f.nextTx++
	hash := fmt.Sprintf("0xdist%d", f.nextTx)
	f.distributions = append(f.distributions, lines)
	if f.sendFails {
		f.sendFails = false
		return hash, &SendError{Hash: hash, Err: errRPC}
	}
	return hash, nil
}

func (f *fakeChain) Paused(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.paused, f.pausedErr
}

func (f *fakeChain) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	f.mu.Lock()
	hold, noReceipt, dropped := f.hold, f.noReceipt, f.dropped
	f.mu.Unlock()

	if dropped {
		return nil, &TxDroppedError{Hash: txHash, Err: errors.New("nonce too low")}
	}
	if noReceipt {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	failed := (f.revertApprove && strings.HasPrefix(txHash, "0xapprove")) ||
		(f.revertDist && strings.HasPrefix(txHash, "0xdist"))
	return &Receipt{TxHash: txHash, BlockNumber: 100, Succeeded: !failed}, nil
}

func (f *fakeChain) set(fn func(f *fakeChain)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

func (f *fakeChain) approvalCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.approvals)
}

func (f *fakeChain) distributionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.distributions)
}

// fakeLedger records every persisted hash and fails while err is set, or when the
// session token is not the accepted one.
type fakeLedger struct {
	mu     sync.Mutex
	err    error
	token  string
	calls  []string
	tokens []string
}

func (l *fakeLedger) Persist(ctx context.Context, session Session, txHash string, summary LedgerSummary) (*models.PayrollRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, txHash)
	l.tokens = append(l.tokens, session.BearerToken)
	if l.err != nil {
		return nil, l.err
	}
	if l.token != "" && session.BearerToken != l.token {
		return nil, &LedgerAPIError{Status: 401, Message: "token expired"}
	}
	return &models.PayrollRecord{
		ID:            "rec-" + txHash,
		Title:         summary.Title,
		Category:      summary.Category,
		Chain:         summary.Chain,
		Currency:      string(summary.Currency),
		TotalSalary:   summary.TotalSalary,
		Tax:           summary.Tax,
		Tx:            txHash,
		WorkspaceID:   summary.WorkspaceID,
		EmployeeCount: summary.EmployeeCount,
	}, nil
}

func (l *fakeLedger) setErr(err error) {
	l.mu.Lock()
	l.err = err
	l.mu.Unlock()
}

func (l *fakeLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

var errRPC = errors.New("rpc unavailable")
