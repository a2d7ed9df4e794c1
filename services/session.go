package services

import (
	"strings"
	"time"
)

// SignatureTTL is how long a wallet signature proves account ownership.
const SignatureTTL = 24 * time.Hour

// WalletSignature is a signed login message proving control of Account.
type WalletSignature struct {
	Account   string
	Message   string
	Signature string
	SignedAt  time.Time
	ExpiresAt time.Time
}

func (s *WalletSignature) Valid(now time.Time) bool {
	return s != nil && s.Signature != "" && now.Before(s.ExpiresAt)
}

// Session is everything a distribution needs to know about its caller. It is passed
// explicitly; nothing in this package reads session state from globals.
type Session struct {
	WorkspaceID string
	Account     string
	BearerToken string
	Signature   *WalletSignature
}

// Connected reports whether a usable wallet account is attached. When a signature
// is present it must be unexpired and belong to the same account.
func (s Session) Connected(now time.Time) bool {
	if s.Account == "" || ValidateAddress(s.Account) != nil {
		return false
	}
	if s.Signature == nil {
		return true
	}
	return s.Signature.Valid(now) && strings.EqualFold(s.Signature.Account, s.Account)
}

// slotKey identifies the (workspace, account) pair that may own one live attempt.
func (s Session) slotKey() string {
	return s.WorkspaceID + "|" + strings.ToLower(s.Account)
}
