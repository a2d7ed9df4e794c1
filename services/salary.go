package services

import (
	"dapp_payroll/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// SalaryProcessor turns a workspace selection into a payment batch.
type SalaryProcessor struct {
	DB      *gorm.DB
	TaxRate decimal.Decimal
}

func NewSalaryProcessor(db *gorm.DB, taxRate decimal.Decimal) *SalaryProcessor {
	return &SalaryProcessor{DB: db, TaxRate: taxRate}
}

func (sp *SalaryProcessor) ListEmployees(workspaceID string) ([]models.Employee, error) {
	var employees []models.Employee
	err := sp.DB.
		Where("workspace_id = ?", workspaceID).
		Where("status = ?", models.EmployeeStatusActive).
		Order("created_at asc").
		Find(&employees).
		Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to list employees")
	}
	return employees, nil
}

// SelectEmployees loads ids from workspaceID in the order given. Unknown or inactive
// employees fail the whole selection.
func (sp *SalaryProcessor) SelectEmployees(workspaceID string, ids []string) ([]models.Employee, error) {
	if len(ids) == 0 {
		return nil, newError(KindEmptySelection, "no employees selected")
	}

	var found []models.Employee
	err := sp.DB.
		Where("workspace_id = ?", workspaceID).
		Where("id IN ?", ids).
		Find(&found).
		Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to load selected employees")
	}

	byID := make(map[string]models.Employee, len(found))
	for _, emp := range found {
		byID[emp.ID] = emp
	}

	selected := make([]models.Employee, 0, len(ids))
	for _, id := range ids {
		emp, ok := byID[id]
		if !ok {
			return nil, newError(KindInvalidRecipient, "employee %s not found in workspace %s", id, workspaceID)
		}
		if emp.Status != models.EmployeeStatusActive {
			return nil, newError(KindInvalidRecipient, "employee %s is %s", id, emp.Status)
		}
		selected = append(selected, emp)
	}
	return selected, nil
}

// ProcessSelection selects ids and builds their payment batch.
func (sp *SalaryProcessor) ProcessSelection(workspaceID string, ids []string) (*PaymentBatch, error) {
	employees, err := sp.SelectEmployees(workspaceID, ids)
	if err != nil {
		return nil, err
	}
	return BuildPaymentBatch(employees, sp.TaxRate)
}
