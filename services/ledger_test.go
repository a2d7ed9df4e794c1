package services

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dapp_payroll/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLedgerAPI serves payroll/create and payroll/tx/{hash} from memory.
type fakeLedgerAPI struct {
	t *testing.T

	mu      sync.Mutex
	records map[string]models.PayrollRecord

	posts      atomic.Int32
	lookups    atomic.Int32
	failCreate atomic.Bool
}

func newFakeLedgerAPI(t *testing.T) (*fakeLedgerAPI, *httptest.Server) {
	api := &fakeLedgerAPI{t: t, records: make(map[string]models.PayrollRecord)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeLedgerAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	assert.Equal(f.t, "Bearer token", r.Header.Get("Authorization"))

	switch {
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/payroll/tx/"):
		f.lookups.Add(1)
		hash := strings.TrimPrefix(r.URL.Path, "/api/payroll/tx/")
		f.mu.Lock()
		rec, ok := f.records[hash]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "payroll not found"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": rec})

	case r.Method == http.MethodPost && r.URL.Path == "/api/payroll/create":
		f.posts.Add(1)
		if f.failCreate.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(w).Encode(map[string]string{"error": "database unavailable"})
			return
		}
		var req CreatePayrollRequest
		if !assert.NoError(f.t, json.NewDecoder(r.Body).Decode(&req)) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		assert.Equal(f.t, req.Tx, r.Header.Get("Idempotency-Key"))

		rec := models.PayrollRecord{
			ID:            "rec-1",
			Title:         req.Title,
			Category:      req.Category,
			Chain:         req.Chain,
			Currency:      req.Currency,
			TotalSalary:   decimal.RequireFromString(req.TotalSalary.String()),
			Tax:           decimal.RequireFromString(req.Tax.String()),
			Tx:            req.Tx,
			WorkspaceID:   req.WorkspaceID,
			EmployeeCount: req.EmployeeCount,
			CreatedAt:     time.Now().UTC(),
		}
		f.mu.Lock()
		f.records[req.Tx] = rec
		f.mu.Unlock()
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"message": "created", "data": rec})

	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func testLedgerSummary() LedgerSummary {
	return LedgerSummary{
		BatchSummary:  testSummary(),
		WorkspaceID:   "ws-1",
		TotalSalary:   decimal.RequireFromString("1000"),
		Tax:           decimal.RequireFromString("30"),
		EmployeeCount: 1,
	}
}

func TestLedgerServiceGetPayrollByTxNotFound(t *testing.T) {
	_, srv := newFakeLedgerAPI(t)
	client := NewLedgerService(srv.URL+"/api", time.Second)

	_, err := client.GetPayrollByTx(context.Background(), "token", "0xmissing")
	assert.ErrorIs(t, err, ErrRecordNotFound)
}

func TestLedgerReconcilerPersist(t *testing.T) {
	ctx := context.Background()

	t.Run("creates once per hash", func(t *testing.T) {
		api, srv := newFakeLedgerAPI(t)
		r := NewLedgerReconciler(NewLedgerService(srv.URL+"/api/", time.Second))

		rec, err := r.Persist(ctx, testSession(), "0xabc", testLedgerSummary())
		require.NoError(t, err)
		assert.Equal(t, "0xabc", rec.Tx)
		assert.Equal(t, "ws-1", rec.WorkspaceID)
		assert.True(t, rec.TotalSalary.Equal(decimal.RequireFromString("1000")))
		assert.True(t, rec.Tax.Equal(decimal.RequireFromString("30")))

		again, err := r.Persist(ctx, testSession(), "0xabc", testLedgerSummary())
		require.NoError(t, err)
		assert.Equal(t, rec.ID, again.ID)
		assert.Equal(t, int32(1), api.posts.Load())
		assert.Equal(t, int32(1), api.lookups.Load(), "settled hashes are answered from memory")
	})

	t.Run("existing record is reused after restart", func(t *testing.T) {
		api, srv := newFakeLedgerAPI(t)
		first := NewLedgerReconciler(NewLedgerService(srv.URL+"/api/", time.Second))
		_, err := first.Persist(ctx, testSession(), "0xabc", testLedgerSummary())
		require.NoError(t, err)

		second := NewLedgerReconciler(NewLedgerService(srv.URL+"/api/", time.Second))
		rec, err := second.Persist(ctx, testSession(), "0xabc", testLedgerSummary())
		require.NoError(t, err)
		assert.Equal(t, "0xabc", rec.Tx)
		assert.Equal(t, int32(1), api.posts.Load())
	})

	t.Run("concurrent writes post once", func(t *testing.T) {
		api, srv := newFakeLedgerAPI(t)
		r := NewLedgerReconciler(NewLedgerService(srv.URL+"/api/", time.Second))

		var wg sync.WaitGroup
		for i := 0; i < 5; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := r.Persist(ctx, testSession(), "0xconcurrent", testLedgerSummary())
				assert.NoError(t, err)
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), api.posts.Load())
	})

	t.Run("server error is a ledger write error", func(t *testing.T) {
		api, srv := newFakeLedgerAPI(t)
		api.failCreate.Store(true)
		r := NewLedgerReconciler(NewLedgerService(srv.URL+"/api/", time.Second))

		_, err := r.Persist(ctx, testSession(), "0xabc", testLedgerSummary())
		require.ErrorIs(t, err, ErrLedgerWriteError)
		assert.Contains(t, err.Error(), "database unavailable")

		api.failCreate.Store(false)
		rec, err := r.Persist(ctx, testSession(), "0xabc", testLedgerSummary())
		require.NoError(t, err)
		assert.Equal(t, "0xabc", rec.Tx)
	})

	t.Run("missing hash", func(t *testing.T) {
		r := NewLedgerReconciler(NewLedgerService("http://127.0.0.1:0/api/", time.Second))
		_, err := r.Persist(ctx, testSession(), "", testLedgerSummary())
		assert.ErrorIs(t, err, ErrLedgerWriteError)
	})
}
