package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"sync"
	"testing"
	"time"

	"dapp_payroll/config"
	"dapp_payroll/models"
	"dapp_payroll/services"
	"dapp_payroll/types"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

const (
	testWallet   = "0x00000000000000000000000000000000000000a1"
	testOwner    = "0x00000000000000000000000000000000000000b1"
	testContract = "0x00000000000000000000000000000000000000c0"
)

var testDB *gorm.DB

func init() {
	if err := config.LoadTestConfig(); err != nil {
		log.Fatal("Failed to load test config:", err)
	}

	var err error
	testDB, err = gorm.Open(sqlite.Open(config.AppConfig.DBPath), &gorm.Config{})
	if err != nil {
		log.Fatal("Failed to connect to test database:", err)
	}
	if err := testDB.AutoMigrate(&models.Employee{}); err != nil {
		log.Fatal("Failed to migrate test database:", err)
	}
}

// stubChain settles every transaction immediately unless hold is set.
type stubChain struct {
	mu        sync.Mutex
	allowance *big.Int
	balance   *big.Int
	hold      chan struct{}
	paused    bool
	nextTx    int
}

func (s *stubChain) Allowance(ctx context.Context, token services.Currency, owner, spender string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.allowance), nil
}

func (s *stubChain) BalanceOf(ctx context.Context, token services.Currency, owner string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.balance), nil
}

func (s *stubChain) Approve(ctx context.Context, token services.Currency, spender string, amount *big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allowance = new(big.Int).Set(amount)
	return s.tx(), nil
}

func (s *stubChain) DistributePayroll(ctx context.Context, token services.Currency, lines []services.PaymentLine, tax *big.Int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx(), nil
}

func (s *stubChain) WaitForReceipt(ctx context.Context, txHash string) (*services.Receipt, error) {
	s.mu.Lock()
	hold := s.hold
	s.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &services.Receipt{TxHash: txHash, BlockNumber: 1, Succeeded: true}, nil
}

func (s *stubChain) Owner(ctx context.Context) (string, error) {
	return testOwner, nil
}

func (s *stubChain) Paused(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.paused, nil
}

func (s *stubChain) TokenAddress(ctx context.Context, token services.Currency) (string, error) {
	if token == services.CurrencyUSDT {
		return "", fmt.Errorf("USDT not configured")
	}
	return "0x036CbD53842c5426634e7929541eC2318f3dCF7e", nil
}

func (s *stubChain) Pause(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = true
	return s.tx(), nil
}

func (s *stubChain) Unpause(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paused = false
	return s.tx(), nil
}

func (s *stubChain) WithdrawTax(ctx context.Context, token services.Currency) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tx(), nil
}

func (s *stubChain) tx() string {
	s.nextTx++
	return fmt.Sprintf("0x%064x", s.nextTx)
}

type stubLedger struct{}

func (stubLedger) Persist(ctx context.Context, session services.Session, txHash string, summary services.LedgerSummary) (*models.PayrollRecord, error) {
	return &models.PayrollRecord{
		ID:            uuid.New().String(),
		Title:         summary.Title,
		Category:      summary.Category,
		Chain:         summary.Chain,
		Currency:      string(summary.Currency),
		TotalSalary:   summary.TotalSalary,
		Tax:           summary.Tax,
		Tx:            txHash,
		WorkspaceID:   summary.WorkspaceID,
		EmployeeCount: summary.EmployeeCount,
	}, nil
}

// SetupTest resets the database and wires fresh services behind a new app.
func SetupTest(t *testing.T) (*fiber.App, *gorm.DB, *stubChain) {
	t.Helper()
	ResetTestDB()

	chain := &stubChain{allowance: big.NewInt(0), balance: big.NewInt(10_000_000_000)}
	gate := services.NewAllowanceGate(chain, testContract)
	orchestrator := services.NewOrchestrator(chain, gate, stubLedger{}, services.OrchestratorConfig{
		ConfirmationTimeout: config.AppConfig.ConfirmationTimeout,
	})
	InitHandlers(Dependencies{
		Salary:        services.NewSalaryProcessor(testDB, config.AppConfig.TaxRate),
		Orchestrator:  orchestrator,
		Gate:          gate,
		Admin:         chain,
		WalletAccount: testWallet,
	})
	t.Cleanup(orchestrator.Wait)

	app := fiber.New()
	RegisterRoutes(app)
	return app, testDB, chain
}

func ResetTestDB() {
	testDB.Exec("DELETE FROM employees")
}

func createEmployee(t *testing.T, db *gorm.DB, workspaceID, wallet, salary, status string) models.Employee {
	t.Helper()
	emp := models.Employee{
		ID:            uuid.New().String(),
		WorkspaceID:   workspaceID,
		Name:          "Employee " + wallet[len(wallet)-4:],
		Email:         wallet[len(wallet)-4:] + "@company.com",
		Role:          "employee",
		WalletAddress: wallet,
		Salary:        decimal.RequireFromString(salary),
		Status:        status,
		CreatedAt:     time.Now(),
		UpdatedAt:     time.Now(),
	}
	require.NoError(t, db.Create(&emp).Error)
	return emp
}

// Helper function to create test JWT token
func createTestToken(userID string, role string) string {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"role":    role,
		"exp":     time.Now().Add(24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(config.AppConfig.JWTSecret))
	if err != nil {
		log.Printf("Error creating test token: %v", err)
		return ""
	}
	return tokenString
}

func decodeResponse(t *testing.T, resp *http.Response) types.APIResponse {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var response types.APIResponse
	require.NoError(t, json.Unmarshal(body, &response), string(body))
	return response
}
