package types

const (
	ErrInvalidInput      = "Invalid input"
	ErrDatabaseError     = "Database error"
	ErrBlockchainError   = "Blockchain error"
	ErrAttemptInProgress = "A distribution is already in progress for this workspace and wallet"
	ErrInternalError     = "internal server error"
)
