/**
 * @description
 * Client for executing checkout transactions against the transaction-service.
 * It forwards the caller's bearer token and the captured PIN, and turns error
 * responses into user-facing operation errors.
 */
package transactionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/transfa/payflow/internal/domain"
)

// BiometricHeader marks a request authorised on-device instead of with a PIN.
const BiometricHeader = "X-Transaction-Auth"

const maxErrorBody = 4 << 10

// p2pTransferRequest mirrors the transaction-service P2P DTO.
type p2pTransferRequest struct {
	RecipientUsername string `json:"recipient_username"`
	Amount            int64  `json:"amount"`
	Description       string `json:"description"`
	TransactionPIN    string `json:"transaction_pin"`
}

type transferInitiationResponse struct {
	TransactionID    string  `json:"transaction_id"`
	Status           string  `json:"status"`
	Message          string  `json:"message"`
	Amount           int64   `json:"amount,omitempty"`
	Fee              int64   `json:"fee,omitempty"`
	AnchorTransferID *string `json:"anchor_transfer_id,omitempty"`
	FailureReason    *string `json:"failure_reason,omitempty"`
}

// Client is a client for the transaction service.
type Client struct {
	baseURL      string
	httpClient   *http.Client
	serviceToken string
	now          func() time.Time
}

// Option customises a Client.
type Option func(*Client)

func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithServiceToken sets the bearer token used when a request carries none.
func WithServiceToken(token string) Option {
	return func(c *Client) { c.serviceToken = strings.TrimSpace(token) }
}

func WithNow(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// NewClient creates a new transaction service client.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Execute submits a peer-to-peer transfer. Other kinds are not served by the
// transaction service.
func (c *Client) Execute(ctx context.Context, req domain.TransactionRequest) (*domain.Receipt, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("transaction service base URL is not configured")
	}
	if req.Kind != domain.KindSendMoney {
		return nil, &domain.OperationError{
			Message:    fmt.Sprintf("%s is not available right now.", req.Kind.Label()),
			Code:       "unsupported_kind",
			StatusCode: http.StatusBadRequest,
		}
	}

	payload := p2pTransferRequest{
		RecipientUsername: strings.TrimPrefix(strings.TrimSpace(req.Recipient), "@"),
		Amount:            req.Amount,
		Description:       req.Description,
		TransactionPIN:    req.Credential.PIN,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/p2p"), bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Idempotency-Key", req.ID.String())
	if token := c.token(req); token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}
	if req.Credential.Biometric {
		httpReq.Header.Set(BiometricHeader, "biometric")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("transaction service request: %w", ctxErr)
		}
		return nil, &domain.OperationError{
			Message: "Unable to reach the transaction service. Please check your connection and try again.",
			Code:    "unreachable",
			Err:     err,
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, statusError(resp)
	}

	var decoded transferInitiationResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode transaction service response: %w", err)
	}
	return c.receipt(req, decoded), nil
}

func (c *Client) endpoint(path string) string {
	if strings.HasSuffix(c.baseURL, "/transactions") {
		return c.baseURL + path
	}
	return c.baseURL + "/transactions" + path
}

func (c *Client) token(req domain.TransactionRequest) string {
	if token := strings.TrimSpace(req.AuthToken); token != "" {
		return token
	}
	return c.serviceToken
}

func (c *Client) receipt(req domain.TransactionRequest, resp transferInitiationResponse) *domain.Receipt {
	receipt := &domain.Receipt{
		TransactionID: req.ID,
		Reference:     resp.TransactionID,
		Status:        resp.Status,
		Amount:        resp.Amount,
		Fee:           resp.Fee,
		Message:       resp.Message,
		CompletedAt:   c.now(),
	}
	if receipt.Amount == 0 {
		receipt.Amount = req.Amount
	}
	if receipt.Status == "" {
		receipt.Status = "pending"
	}
	return receipt
}

// statusError maps an error response onto the message shown to the user.
func statusError(resp *http.Response) *domain.OperationError {
	detail := readErrorDetail(resp.Body)
	opErr := &domain.OperationError{
		Message:    detail,
		StatusCode: resp.StatusCode,
		Err:        fmt.Errorf("transaction service returned error status %d", resp.StatusCode),
	}

	switch resp.StatusCode {
	case http.StatusPaymentRequired:
		opErr.Code = "insufficient_funds"
		opErr.Message = "Insufficient funds"
	case http.StatusUnauthorized:
		opErr.Code = "invalid_pin"
		opErr.Err = domain.ErrInvalidPIN
		opErr.Message = fallback(detail, "Invalid transaction PIN.")
	case http.StatusLocked:
		opErr.Code = "pin_locked"
		opErr.Err = domain.ErrPINLocked
		opErr.Message = fallback(detail, "Too many incorrect PIN attempts. Please wait and try again.")
	case http.StatusPreconditionFailed:
		opErr.Code = "pin_not_set"
		opErr.Err = domain.ErrPINNotSet
		opErr.Message = fallback(detail, "Transaction PIN is not set. Please create your PIN first.")
	case http.StatusNotFound:
		opErr.Code = "recipient_not_found"
		opErr.Message = fallback(detail, "Recipient user not found")
	case http.StatusForbidden:
		opErr.Code = "forbidden"
		opErr.Message = fallback(detail, "This transaction is not allowed.")
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		opErr.Code = "rejected"
		opErr.Message = fallback(detail, "The transaction was rejected.")
	default:
		opErr.Code = "unavailable"
		opErr.Message = "The transaction service is unavailable. Please try again shortly."
	}
	return opErr
}

// readErrorDetail accepts both http.Error text bodies and {"error": "..."} JSON.
func readErrorDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil && !errors.Is(err, io.EOF) {
		return ""
	}
	text := strings.TrimSpace(string(raw))
	if strings.HasPrefix(text, "{") {
		var payload struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(raw, &payload) == nil {
			return strings.TrimSpace(fallback(payload.Error, payload.Message))
		}
	}
	return text
}

func fallback(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
