package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"dapp_payroll/models"

	"github.com/pkg/errors"
)

// ErrRecordNotFound is returned by LedgerClient lookups that find nothing.
var ErrRecordNotFound = errors.New("payroll record not found")

// LedgerClient is the backend payroll ledger API.
type LedgerClient interface {
	CreatePayrollRecord(ctx context.Context, token string, req CreatePayrollRequest) (*models.PayrollRecord, error)
	GetPayrollByTx(ctx context.Context, token, txHash string) (*models.PayrollRecord, error)
}

type CreatePayrollRequest struct {
	Title         string      `json:"title"`
	Category      string      `json:"category"`
	Chain         string      `json:"chain"`
	Currency      string      `json:"currency"`
	TotalSalary   json.Number `json:"totalSalary"`
	Tax           json.Number `json:"tax"`
	Tx            string      `json:"tx"`
	WorkspaceID   string      `json:"workspaceId"`
	EmployeeCount int         `json:"employeeCount"`
}

type ledgerEnvelope struct {
	Message string                `json:"message"`
	Error   string                `json:"error"`
	Data    *models.PayrollRecord `json:"data"`
}

// LedgerAPIError is a non-2xx answer from the ledger.
type LedgerAPIError struct {
	Status  int
	Message string
}

func (e *LedgerAPIError) Error() string {
	return fmt.Sprintf("ledger responded with status %d: %s", e.Status, e.Message)
}

type LedgerService struct {
	client  *http.Client
	baseURL string
}

func NewLedgerService(baseURL string, timeout time.Duration) *LedgerService {
	if !strings.HasSuffix(baseURL, "/") {
		baseURL += "/"
	}
	return &LedgerService{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// CreatePayrollRecord posts a new record. The tx hash doubles as Idempotency-Key.
func (s *LedgerService) CreatePayrollRecord(ctx context.Context, token string, req CreatePayrollRequest) (*models.PayrollRecord, error) {
	var env ledgerEnvelope
	if err := s.callLedger(ctx, http.MethodPost, "payroll/create", token, req.Tx, req, &env); err != nil {
		return nil, err
	}
	if env.Data == nil {
		return nil, errors.New("ledger returned no payroll record")
	}
	return env.Data, nil
}

func (s *LedgerService) GetPayrollByTx(ctx context.Context, token, txHash string) (*models.PayrollRecord, error) {
	var env ledgerEnvelope
	err := s.callLedger(ctx, http.MethodGet, "payroll/tx/"+url.PathEscape(txHash), token, "", nil, &env)
	if err != nil {
		var apiErr *LedgerAPIError
		if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if env.Data == nil {
		return nil, ErrRecordNotFound
	}
	return env.Data, nil
}

func (s *LedgerService) callLedger(ctx context.Context, method, path, token, idempotencyKey string, payload, out interface{}) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		body = bytes.NewBuffer(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &LedgerAPIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		var env ledgerEnvelope
		if json.Unmarshal(raw, &env) == nil {
			if env.Error != "" {
				apiErr.Message = env.Error
			} else if env.Message != "" {
				apiErr.Message = env.Message
			}
		}
		return apiErr
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
