package payout

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/tradelane/backend/pkg/config"
	pkgerrors "github.com/tradelane/backend/pkg/errors"
	"github.com/tradelane/backend/pkg/logger"
)

var (
	errBaseURLRequired = errors.New("payout base url is required")
	errAPIKeyRequired  = errors.New("payout api key is required")
	errLoggerRequired  = errors.New("payout logger is required")
)

// Client talks to the bank-transfer provider that moves escrow funds to
// sellers. Every transfer carries a caller-supplied reference; the provider
// treats the reference as an idempotency key, so retrying a transfer with the
// same reference never moves money twice.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	logger        *logger.Logger
}

// TransferParams describes a single payout to a seller account.
type TransferParams struct {
	Reference   string `json:"reference"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	BankCode    string `json:"bank_code"`
	Account     string `json:"account"`
	AccountName string `json:"account_name,omitempty"`
	Narration   string `json:"narration,omitempty"`
}

// Transfer is the provider's view of a payout.
type Transfer struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// NewClient validates credentials and builds the payout wrapper.
func NewClient(ctx context.Context, cfg config.PayoutConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errBaseURLRequired
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}

	c := &Client{
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		baseURL:       baseURL,
		apiKey:        apiKey,
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		logger:        logg,
	}

	logg.Info(ctx, "payout client initialized")
	return c, nil
}

// SigningSecret returns the webhook secret used to verify provider callbacks.
func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.webhookSecret
}

// CreateTransfer initiates a payout. The provider dedupes on reference.
func (c *Client) CreateTransfer(ctx context.Context, params TransferParams) (*Transfer, error) {
	if strings.TrimSpace(params.Reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference is required")
	}
	c.log(ctx, "request", "create_transfer", map[string]any{
		"reference": params.Reference,
		"amount":    params.AmountCents,
		"currency":  params.Currency,
	})

	var transfer Transfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", params, &transfer); err != nil {
		c.log(ctx, "error", "create_transfer", map[string]any{"error": err.Error()})
		return nil, err
	}

	c.log(ctx, "response", "create_transfer", map[string]any{
		"transfer_id": transfer.ID,
		"status":      transfer.Status,
	})
	return &transfer, nil
}

// GetTransfer fetches a payout by reference for reconciliation sweeps.
func (c *Client) GetTransfer(ctx context.Context, reference string) (*Transfer, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transfer reference is required")
	}
	var transfer Transfer
	if err := c.do(ctx, http.MethodGet, "/v1/transfers/"+reference, nil, &transfer); err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encoding payout request")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "building payout request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternalCallFailed, err, "payout provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return c.mapHTTPError(resp)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeExternalCallFailed, err, "decoding payout response")
	}
	return nil
}

func (c *Client) mapHTTPError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}

	var code pkgerrors.Code
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		code = pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		code = pkgerrors.CodeNotFound
	case http.StatusConflict:
		code = pkgerrors.CodeIdempotency
	case http.StatusUnprocessableEntity, http.StatusBadRequest:
		code = pkgerrors.CodeValidation
	case http.StatusTooManyRequests:
		code = pkgerrors.CodeRateLimit
	default:
		code = pkgerrors.CodeExternalCallFailed
	}
	return pkgerrors.New(code, fmt.Sprintf("payout provider returned %d: %s", resp.StatusCode, msg))
}

func (c *Client) log(ctx context.Context, phase, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{
		"operation": op,
		"phase":     phase,
	}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	switch phase {
	case "error":
		c.logger.Error(ctx, fmt.Sprintf("payout %s", op), errors.New(fmt.Sprint(fields["error"])))
	default:
		c.logger.Info(ctx, fmt.Sprintf("payout %s", phase))
	}
}
