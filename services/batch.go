package services

import (
	"math/big"
	"strings"

	"dapp_payroll/models"

	"github.com/shopspring/decimal"
)

// Currency selects which stablecoin a batch is paid in.
type Currency string

const (
	CurrencyUSDC Currency = "USDC"
	CurrencyUSDT Currency = "USDT"
)

func ParseCurrency(s string) (Currency, bool) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyUSDC, "":
		return CurrencyUSDC, true
	case CurrencyUSDT:
		return CurrencyUSDT, true
	}
	return "", false
}

type PaymentLine struct {
	EmployeeID string   `json:"employee_id"`
	Recipient  string   `json:"recipient"`
	Amount     *big.Int `json:"amount"`
}

// PaymentBatch is an ordered transfer batch. All *big.Int totals are base units.
type PaymentBatch struct {
	Lines         []PaymentLine   `json:"lines"`
	SalarySum     *big.Int        `json:"salary_sum"`
	Tax           *big.Int        `json:"tax"`
	TotalRequired *big.Int        `json:"total_required"`
	TaxRate       decimal.Decimal `json:"tax_rate"`

	// DecimalSalarySum is the exact display-unit sum the tax was computed from.
	DecimalSalarySum decimal.Decimal `json:"decimal_salary_sum"`
}

// BuildPaymentBatch turns a selection into a transfer batch. Lines keep selection
// order; repeated employee ids are dropped, first occurrence wins.
func BuildPaymentBatch(selected []models.Employee, taxRate decimal.Decimal) (*PaymentBatch, error) {
	if taxRate.IsNegative() {
		return nil, newError(KindInvalidAmount, "negative tax rate %s", taxRate.String())
	}

	seenIDs := make(map[string]struct{}, len(selected))
	recipients := make(map[string]string, len(selected))
	unique := make([]models.Employee, 0, len(selected))
	for _, emp := range selected {
		if _, ok := seenIDs[emp.ID]; ok {
			continue
		}
		seenIDs[emp.ID] = struct{}{}

		if err := ValidateAddress(emp.WalletAddress); err != nil {
			return nil, err
		}
		key := strings.ToLower(emp.WalletAddress)
		if other, ok := recipients[key]; ok {
			return nil, newError(KindInvalidRecipient,
				"employees %s and %s share wallet %s", other, emp.ID, emp.WalletAddress)
		}
		recipients[key] = emp.ID
		unique = append(unique, emp)
	}
	if len(unique) == 0 {
		return nil, newError(KindEmptySelection, "no employees selected")
	}

	batch := &PaymentBatch{
		Lines:            make([]PaymentLine, 0, len(unique)),
		SalarySum:        new(big.Int),
		TaxRate:          taxRate,
		DecimalSalarySum: decimal.Zero,
	}
	for _, emp := range unique {
		amount, err := ToBaseUnits(emp.Salary)
		if err != nil {
			return nil, newError(KindInvalidAmount, "salary of employee %s: %v", emp.ID, err)
		}
		batch.Lines = append(batch.Lines, PaymentLine{
			EmployeeID: emp.ID,
			Recipient:  emp.WalletAddress,
			Amount:     amount,
		})
		batch.SalarySum.Add(batch.SalarySum, amount)
		batch.DecimalSalarySum = batch.DecimalSalarySum.Add(emp.Salary)
	}

	tax, err := ToBaseUnits(batch.DecimalSalarySum.Mul(taxRate))
	if err != nil {
		return nil, err
	}
	batch.Tax = tax
	batch.TotalRequired = new(big.Int).Add(batch.SalarySum, tax)
	return batch, nil
}

// DecimalTax is the tax in display units.
func (b *PaymentBatch) DecimalTax() decimal.Decimal {
	return ToDecimal(b.Tax)
}

func (b *PaymentBatch) EmployeeCount() int {
	return len(b.Lines)
}
