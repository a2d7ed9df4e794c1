package handlers

import (
	"dapp_payroll/services"
	"dapp_payroll/types"
	"dapp_payroll/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type ContractInfo struct {
	Owner         string            `json:"owner"`
	Paused        bool              `json:"paused"`
	Tokens        map[string]string `json:"tokens"`
	WalletAccount string            `json:"wallet_account,omitempty"`
	IsOwner       bool              `json:"is_owner"`
}

type WithdrawTaxRequest struct {
	Currency string `json:"currency"`
}

func contractUnavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(types.APIResponse{
		Success: false,
		Error:   types.ErrBlockchainError,
	})
}

func blockchainFailure(c *fiber.Ctx, msg string, err error) error {
	utils.Logger.Error(msg, zap.Error(err))
	return c.Status(fiber.StatusBadGateway).JSON(types.APIResponse{
		Success: false,
		Error:   types.ErrBlockchainError,
	})
}

func GetContractInfo(c *fiber.Ctx) error {
	if Admin == nil {
		return contractUnavailable(c)
	}
	ctx := c.UserContext()

	owner, err := Admin.Owner(ctx)
	if err != nil {
		return blockchainFailure(c, "Failed to read contract owner", err)
	}
	paused, err := Admin.Paused(ctx)
	if err != nil {
		return blockchainFailure(c, "Failed to read contract pause state", err)
	}

	tokens := make(map[string]string)
	for _, currency := range []services.Currency{services.CurrencyUSDC, services.CurrencyUSDT} {
		addr, err := Admin.TokenAddress(ctx, currency)
		if err != nil {
			utils.Logger.Warn("Failed to read token address", zap.String("currency", string(currency)), zap.Error(err))
			continue
		}
		tokens[string(currency)] = addr
	}

	return c.JSON(types.APIResponse{
		Success: true,
		Data: ContractInfo{
			Owner:         owner,
			Paused:        paused,
			Tokens:        tokens,
			WalletAccount: WalletAccount,
			IsOwner:       WalletAccount != "" && services.SameAddress(owner, WalletAccount),
		},
	})
}

func PauseContract(c *fiber.Ctx) error {
	if Admin == nil {
		return contractUnavailable(c)
	}
	hash, err := Admin.Pause(c.UserContext())
	if err != nil {
		return blockchainFailure(c, "Failed to pause contract", err)
	}
	return c.JSON(types.APIResponse{
		Success: true,
		Message: "Pause submitted",
		Data:    fiber.Map{"tx_hash": hash},
	})
}

func UnpauseContract(c *fiber.Ctx) error {
	if Admin == nil {
		return contractUnavailable(c)
	}
	hash, err := Admin.Unpause(c.UserContext())
	if err != nil {
		return blockchainFailure(c, "Failed to unpause contract", err)
	}
	return c.JSON(types.APIResponse{
		Success: true,
		Message: "Unpause submitted",
		Data:    fiber.Map{"tx_hash": hash},
	})
}

func WithdrawTax(c *fiber.Ctx) error {
	if Admin == nil {
		return contractUnavailable(c)
	}
	var req WithdrawTaxRequest
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

	hash, err := Admin.WithdrawTax(c.UserContext(), currency)
	if err != nil {
		return blockchainFailure(c, "Failed to withdraw tax", err)
	}
	return c.JSON(types.APIResponse{
		Success: true,
		Message: "Tax withdrawal submitted",
		Data:    fiber.Map{"tx_hash": hash, "currency": currency},
	})
}
