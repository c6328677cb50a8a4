package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/transfa/payflow/internal/app"
	"github.com/transfa/payflow/internal/clock/clocktest"
	"golang.org/x/crypto/bcrypt"
)

const testUserHeader = "X-User-ID"

type stateBody struct {
	Phase  string `json:"phase"`
	Busy   bool   `json:"busy"`
	HasPIN bool   `json:"has_pin"`
	PinPad *struct {
		Entered int    `json:"entered"`
		Length  int    `json:"length"`
		Status  string `json:"status"`
	} `json:"pin_pad"`
	Toasts []struct {
		ID      string `json:"id"`
		Message string `json:"message"`
	} `json:"toasts"`
	Alert *struct {
		Title   string `json:"title"`
		Message string `json:"message"`
	} `json:"alert"`
	LastReceipt *struct {
		Reference string `json:"reference"`
		Amount    int64  `json:"amount"`
	} `json:"last_receipt"`
	LastError string `json:"last_error"`
}

func newTestRouter(t *testing.T, balance int64) http.Handler {
	t.Helper()
	registry := app.NewRegistry(app.WorkspaceConfig{
		Operation: app.NewSimulatedOperation(balance, 0, nil),
		PINStore:  app.NewBcryptAuthenticator(bcrypt.MinCost),
		Clock:     clocktest.NewFake(time.Time{}),
	})
	t.Cleanup(registry.CloseAll)

	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	return CheckoutRoutes(NewCheckoutHandlers(registry, nil), HeaderAuthMiddleware(testUserHeader), []string{"*"}, metrics)
}

func do(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(testUserHeader, "user_123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func currentState(t *testing.T, h http.Handler) stateBody {
	t.Helper()
	rec := do(t, h, http.MethodGet, "/checkout/state", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var state stateBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state
}

func airtime(amount int64) map[string]any {
	return map[string]any{"kind": "airtime", "amount": amount, "recipient": "08031234567"}
}

func TestCheckout_HappyPath(t *testing.T) {
	h := newTestRouter(t, 1_000_000)

	rec := do(t, h, http.MethodPost, "/checkout/transactions", airtime(500))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var started struct {
		TransactionID string `json:"transaction_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	assert.NotEmpty(t, started.TransactionID)

	require.Eventually(t, func() bool { return currentState(t, h).PinPad != nil }, 2*time.Second, 5*time.Millisecond)
	for _, key := range []string{"1", "2", "3", "4"} {
		rec = do(t, h, http.MethodPost, "/checkout/keypad", map[string]string{"key": key})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	require.Eventually(t, func() bool { return currentState(t, h).LastReceipt != nil }, 2*time.Second, 5*time.Millisecond)
	state := currentState(t, h)
	assert.Equal(t, "success", state.Phase)
	assert.True(t, state.Busy)
	assert.Equal(t, int64(500), state.LastReceipt.Amount)
	require.Len(t, state.Toasts, 1)
	assert.Equal(t, "Airtime purchase of ₦5.00 successful", state.Toasts[0].Message)

	rec = do(t, h, http.MethodPost, "/checkout/transactions", airtime(500))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodDelete, "/checkout/toasts/"+state.Toasts[0].ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/checkout/toasts/"+state.Toasts[0].ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_FailureAlert(t *testing.T) {
	h := newTestRouter(t, 100)

	rec := do(t, h, http.MethodPost, "/checkout/transactions", airtime(500))
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Eventually(t, func() bool { return currentState(t, h).PinPad != nil }, 2*time.Second, 5*time.Millisecond)
	for _, key := range []string{"1", "2", "3", "4"} {
		do(t, h, http.MethodPost, "/checkout/keypad", map[string]string{"key": key})
	}

	require.Eventually(t, func() bool { return currentState(t, h).Alert != nil }, 2*time.Second, 5*time.Millisecond)
	state := currentState(t, h)
	assert.Equal(t, "error", state.Phase)
	assert.Equal(t, "Insufficient funds", state.Alert.Message)

	rec = do(t, h, http.MethodPost, "/checkout/alert/ack", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Eventually(t, func() bool { return !currentState(t, h).Busy }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "Insufficient funds", currentState(t, h).LastError)

	rec = do(t, h, http.MethodPost, "/checkout/alert/ack", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCheckout_ValidationAndRequestErrors(t *testing.T) {
	h := newTestRouter(t, 1_000_000)

	rec := do(t, h, http.MethodPost, "/checkout/transactions", airtime(0))
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "amount", body["field"])

	req := httptest.NewRequest(http.MethodPost, "/checkout/transactions", bytes.NewBufferString("{"))
	req.Header.Set(testUserHeader, "user_123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/checkout/keypad", map[string]string{"key": "1"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	state := currentState(t, h)
	assert.Equal(t, "idle", state.Phase)
	assert.Empty(t, state.Toasts)
}

func TestCheckout_PINSetup(t *testing.T) {
	h := newTestRouter(t, 1_000_000)

	var result struct {
		Done   bool `json:"done"`
		HasPIN bool `json:"has_pin"`
	}
	for _, key := range []string{"1", "2", "3", "4", "1", "2", "3", "4"} {
		rec := do(t, h, http.MethodPost, "/checkout/pin", map[string]string{"key": key})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	}
	assert.True(t, result.Done)
	assert.True(t, result.HasPIN)
	assert.True(t, currentState(t, h).HasPIN)

	rec := do(t, h, http.MethodPost, "/checkout/pin", map[string]string{"key": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/checkout/pin", map[string]string{"key": "resend"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Contains(t, rec.Body.String(), "Please wait before requesting a new code")
}

func TestCheckout_PublicAndUnauthenticatedRoutes(t *testing.T) {
	h := newTestRouter(t, 0)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", rec.Body.String())

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/checkout/state", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
