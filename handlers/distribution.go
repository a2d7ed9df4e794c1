package handlers

import (
	"strings"

	"dapp_payroll/services"
	"dapp_payroll/types"

	"github.com/gofiber/fiber/v2"
)

type CreateDistributionRequest struct {
	EmployeeIDs []string `json:"employee_ids"`
	Title       string   `json:"title"`
	Category    string   `json:"category"`
	Chain       string   `json:"chain"`
	Currency    string   `json:"currency"`
}

// CreateDistribution builds the batch for the selected employees and starts a
// distribution attempt in the background. Progress is read via GetDistribution.
func CreateDistribution(c *fiber.Ctx) error {
	var req CreateDistributionRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(types.APIResponse{
			Success: false,
			Error:   types.ErrInvalidInput,
		})
	}
	req.Title = strings.TrimSpace(req.Title)
	req.Category = strings.TrimSpace(req.Category)
	if req.Title == "" || req.Category == "" {
		return c.Status(fiber.StatusBadRequest).JSON(types.APIResponse{
			Success: false,
			Error:   "Title and category are required",
		})
	}
	currency, ok := services.ParseCurrency(req.Currency)
	if !ok {
		return c.Status(fiber.StatusBadRequest).JSON(types.APIResponse{
			Success: false,
			Error:   "Unsupported currency",
		})
	}
	chain := strings.ToLower(strings.TrimSpace(req.Chain))
	if chain == "" {
		chain = "base"
	}

	session := sessionFromCtx(c)
	if live, ok := Orchestrator.Live(session); ok {
		return attemptInProgressResponse(c, session, live.ID)
	}

	batch, err := Salary.ProcessSelection(session.WorkspaceID, req.EmployeeIDs)
	if err != nil {
		return distributionErrorResponse(c, err)
	}

	attempt, err := Orchestrator.Start(session, batch, services.BatchSummary{
		Title:    req.Title,
		Category: req.Category,
		Chain:    chain,
		Currency: currency,
	})
	if id := services.BlockingAttemptID(err); id != "" {
		return attemptInProgressResponse(c, session, id)
	}
	if err != nil {
		return distributionErrorResponse(c, err)
	}
	Orchestrator.Go(RunCtx, attempt)

	return c.Status(fiber.StatusAccepted).JSON(types.APIResponse{
		Success: true,
		Message: "Distribution started",
		Data:    attempt.Snapshot(),
	})
}

// attemptInProgressResponse reports the attempt blocking a new one. Its snapshot is
// only included when it belongs to the caller's workspace.
func attemptInProgressResponse(c *fiber.Ctx, session services.Session, id string) error {
	resp := types.APIResponse{
		Success: false,
		Error:   types.ErrAttemptInProgress,
		Code:    string(services.KindAttemptInProgress),
	}
	if blocking, err := Orchestrator.Find(id, session); err == nil {
		resp.Data = blocking.Snapshot()
	}
	return c.Status(fiber.StatusConflict).JSON(resp)
}

func GetDistribution(c *fiber.Ctx) error {
	attempt, err := Orchestrator.Find(c.Params("id"), sessionFromCtx(c))
	if err != nil {
		return distributionErrorResponse(c, err)
	}
	return c.JSON(types.APIResponse{
		Success: true,
		Data:    attempt.Snapshot(),
	})
}

// RetryDistribution re-arms a failed attempt and runs it again in the background.
func RetryDistribution(c *fiber.Ctx) error {
	attempt, err := Orchestrator.Retry(c.Params("id"), sessionFromCtx(c))
	if err != nil {
		return distributionErrorResponse(c, err)
	}
	Orchestrator.Go(RunCtx, attempt)

	return c.Status(fiber.StatusAccepted).JSON(types.APIResponse{
		Success: true,
		Message: "Distribution retry started",
		Data:    attempt.Snapshot(),
	})
}

func AbandonDistribution(c *fiber.Ctx) error {
	attempt, err := Orchestrator.Find(c.Params("id"), sessionFromCtx(c))
	if err != nil {
		return distributionErrorResponse(c, err)
	}
	if err := Orchestrator.Abandon(attempt.ID); err != nil {
		return distributionErrorResponse(c, err)
	}
	return c.JSON(types.APIResponse{
		Success: true,
		Message: "Distribution abandoned",
	})
}
