package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateChecking))
	assert.True(t, CanTransition(StateChecking, StateApproving))
	assert.True(t, CanTransition(StateChecking, StateDistributing))
	assert.True(t, CanTransition(StateApprovalConfirmed, StateChecking))
	assert.True(t, CanTransition(StatePersisting, StateSettled))
	assert.True(t, CanTransition(StateFailed, StatePersisting))

	assert.False(t, CanTransition(StateIdle, StateDistributing))
	assert.False(t, CanTransition(StateApproving, StateDistributing))
	assert.False(t, CanTransition(StateDistributing, StatePersisting))
	assert.False(t, CanTransition(StateSettled, StateIdle))
	assert.False(t, CanTransition(StateSettled, StateFailed))
	assert.False(t, CanTransition(StateFailed, StateChecking))
}

func TestEveryStateCanFail(t *testing.T) {
	for from := range transitions {
		if from == StateFailed || from == StateSettled {
			continue
		}
		assert.True(t, CanTransition(from, StateFailed), from)
	}
}

func TestTerminal(t *testing.T) {
	assert.True(t, StateSettled.Terminal())
	assert.True(t, StateFailed.Terminal())
	for _, s := range []State{StateIdle, StateChecking, StateApproving, StateApprovalConfirmed, StateDistributing, StateConfirmed, StatePersisting} {
		assert.False(t, s.Terminal(), s)
	}
	assert.True(t, StateDistributing.Submitted())
	assert.False(t, StateChecking.Submitted())
}

func TestErrorKindClass(t *testing.T) {
	assert.Equal(t, ClassValidation, KindInsufficientBalance.Class())
	assert.Equal(t, ClassValidation, KindWalletNotConnected.Class())
	assert.Equal(t, ClassChain, KindDistributionReverted.Class())
	assert.Equal(t, ClassChain, KindTimeoutAwaitingConfirmation.Class())
	assert.Equal(t, ClassLedger, KindLedgerWriteError.Class())
	assert.Equal(t, ClassConcurrency, KindAttemptInProgress.Class())

	assert.True(t, KindLedgerWriteError.Soft())
	assert.False(t, KindDistributionReverted.Soft())

	err := wrapError(KindApprovalRejected, errRPC)
	assert.ErrorIs(t, err, ErrApprovalRejected)
	assert.ErrorIs(t, err, errRPC)
	assert.NotErrorIs(t, err, ErrApprovalReverted)
	assert.Equal(t, KindApprovalRejected, KindOf(err))
	assert.Equal(t, ErrorKind(""), KindOf(errRPC))
}
