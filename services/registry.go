package services

import (
	"sync"
	"time"
)

// attemptRegistry holds at most one live attempt per (workspace, account) and at
// most one attempt per signing account with chain work outstanding. A new claim
// against an occupied slot is rejected, never queued.
type attemptRegistry struct {
	mu       sync.Mutex
	slots    map[string]*Attempt
	accounts map[string]*Attempt
	byID     map[string]*Attempt
}

func newAttemptRegistry() *attemptRegistry {
	return &attemptRegistry{
		slots:    make(map[string]*Attempt),
		accounts: make(map[string]*Attempt),
		byID:     make(map[string]*Attempt),
	}
}

// claim gives the slots to a. activate runs under the registry lock so that the state
// change that makes a live again cannot interleave with another claim.
func (r *attemptRegistry) claim(a *Attempt, activate func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.slots[a.slotKey()]; ok && cur != a && cur.holdsSlot() {
		return inProgress(cur, "attempt %s is %s", cur.ID, cur.State())
	}
	account := a.accountKey()
	if account != "" {
		if cur, ok := r.accounts[account]; ok && cur != a && cur.holdsAccount() {
			return inProgress(cur, "account %s is busy with attempt %s of workspace %s", a.Account, cur.ID, cur.WorkspaceID)
		}
	}
	if activate != nil {
		if err := activate(); err != nil {
			return err
		}
	}
	r.slots[a.slotKey()] = a
	if account != "" {
		r.accounts[account] = a
	}
	r.byID[a.ID] = a
	return nil
}

func (r *attemptRegistry) get(id string) (*Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.byID[id]
	return a, ok
}

// release forgets a. check runs under the registry lock and may veto.
func (r *attemptRegistry) release(a *Attempt, check func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if check != nil {
		if err := check(); err != nil {
			return err
		}
	}
	r.forget(a)
	return nil
}

// live returns the attempt currently holding key, if it still holds it.
func (r *attemptRegistry) live(key string) (*Attempt, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.slots[key]
	if !ok || !a.holdsSlot() {
		return nil, false
	}
	return a, true
}

// prune drops finished attempts idle since before cutoff. Attempts that still hold a
// slot, or are running, are kept regardless of age.
func (r *attemptRegistry) prune(cutoff time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, a := range r.byID {
		if a.running.Load() || a.holdsSlot() || a.holdsAccount() || !a.lastActivity().Before(cutoff) {
			continue
		}
		r.forget(a)
		n++
	}
	return n
}

func (r *attemptRegistry) forget(a *Attempt) {
	if r.slots[a.slotKey()] == a {
		delete(r.slots, a.slotKey())
	}
	if r.accounts[a.accountKey()] == a {
		delete(r.accounts, a.accountKey())
	}
	delete(r.byID, a.ID)
}

func inProgress(holder *Attempt, format string, args ...interface{}) *DistributionError {
	err := newError(KindAttemptInProgress, format, args...)
	err.AttemptID = holder.ID
	return err
}
