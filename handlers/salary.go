package handlers

import (
	"math/big"

	"dapp_payroll/services"
	"dapp_payroll/types"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"
)

type PreviewPayrollRequest struct {
	EmployeeIDs []string `json:"employee_ids"`
	Currency    string   `json:"currency"`
	// Refresh drops cached allowance and balance reads before querying.
	Refresh bool `json:"refresh"`
}

type PayrollPreview struct {
	EmployeeCount     int                    `json:"employee_count"`
	Lines             []services.PaymentLine `json:"lines"`
	TotalSalary       decimal.Decimal        `json:"total_salary"`
	Tax               decimal.Decimal        `json:"tax"`
	TotalAmount       decimal.Decimal        `json:"total_amount"`
	SalarySum         *big.Int               `json:"salary_sum"`
	TaxUnits          *big.Int               `json:"tax_units"`
	TotalRequired     *big.Int               `json:"total_required"`
	TaxRate           decimal.Decimal        `json:"tax_rate"`
	Currency          services.Currency      `json:"currency"`
	WalletConnected   bool                   `json:"wallet_connected"`
	Allowance         *big.Int               `json:"allowance,omitempty"`
	Balance           *big.Int               `json:"balance,omitempty"`
	NeedsApproval     bool                   `json:"needs_approval"`
	SufficientBalance bool                   `json:"sufficient_balance"`
}

// PreviewPayroll builds the batch for a selection and reports whether approval is
// needed, without submitting anything.
func PreviewPayroll(c *fiber.Ctx) error {
	var req PreviewPayrollRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.APIResponse{
			Success: false,
			Error:   types.ErrInvalidInput,
		})
	}
	currency, ok := services.ParseCurrency(req.Currency)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(types.APIResponse{
			Success: false,
			Error:   "Unsupported currency",
		})
	}

	session := sessionFromCtx(c)
	batch, err := Salary.ProcessSelection(session.WorkspaceID, req.EmployeeIDs)
	if err != nil {
		return distributionErrorResponse(c, err)
	}

	preview := PayrollPreview{
		EmployeeCount:     batch.EmployeeCount(),
		Lines:             batch.Lines,
		TotalSalary:       services.ToDecimal(batch.SalarySum),
		Tax:               services.ToDecimal(batch.Tax),
		TotalAmount:       services.ToDecimal(batch.TotalRequired),
		SalarySum:         batch.SalarySum,
		TaxUnits:          batch.Tax,
		TotalRequired:     batch.TotalRequired,
		TaxRate:           batch.TaxRate,
		Currency:          currency,
		WalletConnected:   session.Account != "",
		SufficientBalance: true,
	}

	if session.Account != "" && Gate != nil {
		if req.Refresh {
			Gate.Invalidate(currency, session.Account)
		}
		state := Gate.Query(c.UserContext(), currency, session.Account)
		preview.Allowance = state.Allowance
		preview.Balance = state.Balance
		preview.NeedsApproval = state.NeedsApproval(batch.TotalRequired)
		preview.SufficientBalance = services.SufficientBalance(state.Balance, batch.TotalRequired)
	}

	return c.JSON(types.APIResponse{
		Success: true,
		Data:    preview,
	})
}
