package handlers

import (
	"context"

	"dapp_payroll/middleware"
	"dapp_payroll/services"
	"dapp_payroll/types"
	"dapp_payroll/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

var (
	Salary       *services.SalaryProcessor
	Orchestrator *services.Orchestrator
	Gate         *services.AllowanceGate
	Admin        services.PayrollAdmin
	// WalletAccount is the connected signing account; empty means no wallet.
	WalletAccount string
	RunCtx        = context.Background()
)

type Dependencies struct {
	Salary        *services.SalaryProcessor
	Orchestrator  *services.Orchestrator
	Gate          *services.AllowanceGate
	Admin         services.PayrollAdmin
	WalletAccount string
	RunCtx        context.Context
}

func InitHandlers(deps Dependencies) {
	Salary = deps.Salary
	Orchestrator = deps.Orchestrator
	Gate = deps.Gate
	Admin = deps.Admin
	WalletAccount = deps.WalletAccount
	RunCtx = deps.RunCtx
	if RunCtx == nil {
		RunCtx = context.Background()
	}
}

// RegisterRoutes mounts the payroll API on router.
func RegisterRoutes(router fiber.Router) {
	api := router.Group("/api/v1", middleware.RequireAuth)

	api.Get("/workspaces/:workspaceId/employees", ListEmployees)
	api.Post("/workspaces/:workspaceId/payroll/preview", PreviewPayroll)
	api.Post("/workspaces/:workspaceId/distributions", CreateDistribution)

	api.Get("/workspaces/:workspaceId/distributions/:id", GetDistribution)
	api.Post("/workspaces/:workspaceId/distributions/:id/retry", RetryDistribution)
	api.Delete("/workspaces/:workspaceId/distributions/:id", AbandonDistribution)

	api.Get("/contract", GetContractInfo)
	api.Post("/contract/pause", middleware.RequireRoot, PauseContract)
	api.Post("/contract/unpause", middleware.RequireRoot, UnpauseContract)
	api.Post("/contract/withdraw-tax", middleware.RequireRoot, WithdrawTax)
}

// sessionFromCtx builds the explicit session a distribution runs under.
func sessionFromCtx(c *fiber.Ctx) services.Session {
	token, _ := c.Locals("token").(string)
	return services.Session{
		WorkspaceID: c.Params("workspaceId"),
		Account:     WalletAccount,
		BearerToken: token,
	}
}

func distributionErrorResponse(c *fiber.Ctx, err error) error {
	kind := services.KindOf(err)
	if kind == "" {
		utils.Logger.Error("Unexpected distribution error", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(types.APIResponse{
			Success: false,
			Error:   types.ErrInternalError,
		})
	}

	status := fiber.StatusBadGateway
	switch kind {
	case services.KindAttemptInProgress, services.KindInvalidTransition:
		status = fiber.StatusConflict
	case services.KindAttemptNotFound:
		status = fiber.StatusNotFound
	default:
		if kind.Class() == services.ClassValidation {
			status = fiber.StatusUnprocessableEntity
		}
	}
	return c.Status(status).JSON(types.APIResponse{
		Success: false,
		Error:   err.Error(),
		Code:    string(kind),
	})
}
