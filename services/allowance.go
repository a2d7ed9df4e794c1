package services

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"dapp_payroll/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// AllowanceReader is the read side of Chain the gate needs.
type AllowanceReader interface {
	Allowance(ctx context.Context, token Currency, owner, spender string) (*big.Int, error)
	BalanceOf(ctx context.Context, token Currency, owner string) (*big.Int, error)
}

// AllowanceState is a snapshot of what owner has authorised and holds.
// A nil value means the read failed and the value is unknown.
type AllowanceState struct {
	Allowance    *big.Int `json:"allowance"`
	Balance      *big.Int `json:"balance"`
	AllowanceErr error    `json:"-"`
	BalanceErr   error    `json:"-"`
}

// NeedsApproval is true iff the known allowance is below required. An unknown
// allowance does not block: a failed chain call costs less than a stuck payroll.
func (s AllowanceState) NeedsApproval(required *big.Int) bool {
	if s.Allowance == nil || required == nil {
		return false
	}
	return s.Allowance.Cmp(required) < 0
}

// SufficientBalance is false only when a known balance is below required.
func SufficientBalance(balance, required *big.Int) bool {
	if balance == nil || required == nil {
		return true
	}
	return balance.Cmp(required) >= 0
}

type cachedState struct {
	allowance *big.Int
	balance   *big.Int
}

// AllowanceGate reads allowance and balance against the payroll contract as spender.
// Successful reads are cached until Invalidate; nothing expires on its own.
type AllowanceGate struct {
	reader  AllowanceReader
	spender string

	mu    sync.Mutex
	cache map[string]cachedState
}

func NewAllowanceGate(reader AllowanceReader, spender string) *AllowanceGate {
	return &AllowanceGate{
		reader:  reader,
		spender: spender,
		cache:   make(map[string]cachedState),
	}
}

func (g *AllowanceGate) Spender() string {
	return g.spender
}

// Query returns the allowance state for owner, running both chain reads concurrently
// and returning only after both have finished.
func (g *AllowanceGate) Query(ctx context.Context, token Currency, owner string) AllowanceState {
	key := cacheKey(token, owner)

	g.mu.Lock()
	cached := g.cache[key]
	g.mu.Unlock()

	state := AllowanceState{Allowance: cached.allowance, Balance: cached.balance}

	var eg errgroup.Group
	if state.Allowance == nil {
		eg.Go(func() error {
			v, err := g.reader.Allowance(ctx, token, owner, g.spender)
			if err != nil {
				state.AllowanceErr = wrapError(KindAllowanceReadFailure, err)
				return nil
			}
			state.Allowance = v
			return nil
		})
	}
	if state.Balance == nil {
		eg.Go(func() error {
			v, err := g.reader.BalanceOf(ctx, token, owner)
			if err != nil {
				state.BalanceErr = wrapError(KindAllowanceReadFailure, err)
				return nil
			}
			state.Balance = v
			return nil
		})
	}
	_ = eg.Wait()

	if state.AllowanceErr != nil || state.BalanceErr != nil {
		utils.Logger.Warn("Allowance gate read failed, continuing permissively",
			zap.String("owner", owner),
			zap.String("token", string(token)),
			zap.NamedError("allowance_error", state.AllowanceErr),
			zap.NamedError("balance_error", state.BalanceErr))
	}

	g.mu.Lock()
	g.cache[key] = cachedState{allowance: state.Allowance, balance: state.Balance}
	g.mu.Unlock()

	return state
}

// Invalidate drops cached reads for owner. Call it after a confirmed transaction
// or on an explicit caller refresh.
func (g *AllowanceGate) Invalidate(token Currency, owner string) {
	g.mu.Lock()
	delete(g.cache, cacheKey(token, owner))
	g.mu.Unlock()
}

func cacheKey(token Currency, owner string) string {
	return string(token) + "|" + strings.ToLower(owner)
}
