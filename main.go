package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dapp_payroll/config"
	"dapp_payroll/handlers"
	"dapp_payroll/models"
	"dapp_payroll/services"
	"dapp_payroll/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Database connection
var DB *gorm.DB
var blockchainService *services.BlockchainService

func initServices(ctx context.Context) error {
	var err error
	DB, err = gorm.Open(sqlite.Open(config.AppConfig.DBPath), &gorm.Config{})
	if err != nil {
		return err
	}

	if err := DB.AutoMigrate(&models.Employee{}); err != nil {
		return err
	}

	blockchainService, err = services.NewBlockchainService(ctx, services.BlockchainConfig{
		RPCURL:          config.AppConfig.RPCURL,
		ChainID:         config.AppConfig.ChainID,
		PayrollContract: config.AppConfig.PayrollContractAddress,
		Tokens: map[services.Currency]string{
			services.CurrencyUSDC: config.AppConfig.USDCAddress,
			services.CurrencyUSDT: config.AppConfig.USDTAddress,
		},
		PrivateKey:   config.AppConfig.WalletPrivateKey,
		PollInterval: config.AppConfig.ReceiptPollInterval,
	})
	if err != nil {
		return err
	}

	if blockchainService.Account() == "" {
		utils.Logger.Warn("No wallet key configured, distributions will fail with WalletNotConnected")
	}
	return nil
}

func main() {
	config.LoadConfig()
	utils.InitLogger()
	defer utils.Logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := initServices(ctx); err != nil {
		utils.Logger.Fatal("Failed to initialize services", zap.Error(err))
	}
	defer blockchainService.Close()

	gate := services.NewAllowanceGate(blockchainService, blockchainService.PayrollContract())
	ledger := services.NewLedgerReconciler(
		services.NewLedgerService(config.AppConfig.LedgerAPIURL, config.AppConfig.LedgerTimeout))
	orchestrator := services.NewOrchestrator(blockchainService, gate, ledger, services.OrchestratorConfig{
		ConfirmationTimeout: config.AppConfig.ConfirmationTimeout,
	})

	handlers.InitHandlers(handlers.Dependencies{
		Salary:        services.NewSalaryProcessor(DB, config.AppConfig.TaxRate),
		Orchestrator:  orchestrator,
		Gate:          gate,
		Admin:         blockchainService,
		WalletAccount: blockchainService.Account(),
		RunCtx:        ctx,
	})

	app := fiber.New()
	app.Use(recover.New())
	app.Use(cors.New())

	// Routes
	handlers.RegisterRoutes(app)

	go func() {
		<-ctx.Done()
		utils.Logger.Info("Shutting down")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			utils.Logger.Error("Server shutdown failed", zap.Error(err))
		}
	}()

	utils.Logger.Info("Payroll server starting",
		zap.String("port", config.AppConfig.Port),
		zap.Int64("chain_id", config.AppConfig.ChainID),
		zap.String("payroll_contract", blockchainService.PayrollContract()))
	if err := app.Listen(":" + config.AppConfig.Port); err != nil {
		utils.Logger.Error("Server stopped", zap.Error(err))
	}

	// In-flight attempts see ctx cancelled and fail with a confirmation timeout.
	orchestrator.Wait()
}
