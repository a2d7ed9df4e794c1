package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Employee is the read-only projection of a workspace member this service pays.
// Workspace CRUD owns the rows; the distribution core only selects from them.
type Employee struct {
	ID            string          `gorm:"type:varchar(36);primary_key" json:"id"`
	WorkspaceID   string          `gorm:"type:varchar(36);not null;index" json:"workspace_id"`
	Name          string          `json:"name"`
	Email         string          `json:"email"`
	Role          string          `json:"role"`
	WalletAddress string          `gorm:"type:varchar(42);not null" json:"wallet_address"`
	Salary        decimal.Decimal `gorm:"type:decimal(20,6);not null" json:"salary"`
	Status        string          `gorm:"not null;default:'active'" json:"status"` // active, inactive, left_company
	CreatedAt     time.Time       `gorm:"not null" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"not null" json:"updated_at"`
}

const EmployeeStatusActive = "active"

// PayrollRecord is the ledger's representation of a settled distribution.
// Tx is the distribution transaction hash and the ledger's idempotency key.
type PayrollRecord struct {
	ID            string          `json:"id,omitempty"`
	Title         string          `json:"title"`
	Category      string          `json:"category"`
	Chain         string          `json:"chain"`
	Currency      string          `json:"currency"`
	TotalSalary   decimal.Decimal `json:"totalSalary"`
	Tax           decimal.Decimal `json:"tax"`
	Tx            string          `json:"tx"`
	WorkspaceID   string          `json:"workspaceId"`
	EmployeeCount int             `json:"employeeCount"`
	CreatedAt     time.Time       `json:"createdAt"`
}
