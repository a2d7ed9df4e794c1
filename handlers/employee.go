package handlers

import (
	"dapp_payroll/types"
	"dapp_payroll/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// ListEmployees returns the active employees a payroll run can select from.
func ListEmployees(c *fiber.Ctx) error {
	workspaceID := c.Params("workspaceId")

	employees, err := Salary.ListEmployees(workspaceID)
	if err != nil {
		utils.Logger.Error("Failed to fetch employees", zap.String("workspace_id", workspaceID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(types.APIResponse{
			Success: false,
			Error:   types.ErrDatabaseError,
		})
	}

	return c.JSON(types.APIResponse{
		Success: true,
		Data:    employees,
	})
}
