package paymentgateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	gatewayDatamodel "github.com/mazuri-stores/mazuri-api/internal/core/datamodel/paymentgateway"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	pushPath  = "/mpesa/stkpush/v1/processrequest"
	queryPath = "/mpesa/stkpushquery/v1/query"

	defaultTimeout     = 30 * time.Second
	defaultTokenTTL    = 3599 * time.Second
	tokenExpiryMargin  = 60 * time.Second
	maxResponseBytes   = 1 << 20
	maxAccountRefLen   = 12
	maxTransactionDesc = 13

	OpToken = "token"
	OpPush  = "stkpush"
	OpQuery = "stkquery"
)

var ErrInvalidAmount = errors.New("mpesa: amount must be at least 1")

var tracer = otel.Tracer("github.com/mazuri-stores/mazuri-api/internal/paymentgateway")

type Config struct {
	BaseURL         string
	ConsumerKey     string
	ConsumerSecret  string
	ShortCode       string
	Passkey         string
	CallbackURL     string
	TransactionType string
	Timeout         time.Duration
}

// Recorder receives per-call gateway measurements.
type Recorder interface {
	ObserveGatewayCall(operation, outcome string, duration time.Duration)
}

type PushRequest struct {
	PhoneNumber      string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

type PushResult struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	CustomerMessage     string
	ResponseDescription string
}

type QueryResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        gatewayDatamodel.ResultCode
	ResultDesc        string
}

// Client talks to the Daraja API. It holds no per-payment state; the only
// thing shared between calls is the token cache.
type Client struct {
	cfg        Config
	httpClient *http.Client
	tokens     TokenCache
	recorder   Recorder
	logger     *slog.Logger
	now        func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func WithTokenCache(cache TokenCache) Option {
	return func(c *Client) { c.tokens = cache }
}

func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

func NewClient(cfg Config, logger *slog.Logger, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.TransactionType == "" {
		cfg.TransactionType = gatewayDatamodel.TransactionTypePayBillOnline
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		tokens:     NewMemoryTokenCache(),
		logger:     logger,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AcquireAccessToken returns a cached bearer token or exchanges the consumer
// credentials for a new one.
func (c *Client) AcquireAccessToken(ctx context.Context) (string, error) {
	if token, ok, err := c.tokens.Get(ctx); err != nil {
		c.logger.Warn("token cache read failed, requesting new token", "error", err)
	} else if ok {
		return token, nil
	}

	ctx, span := tracer.Start(ctx, "mpesa.oauth")
	defer span.End()

	start := c.now()
	token, ttl, err := c.requestToken(ctx)
	c.observe(OpToken, err, start)
	if err != nil {
		recordSpanError(span, err)
		c.logger.Error("mpesa token request failed", "error", err)
		return "", err
	}

	if ttl > tokenExpiryMargin {
		ttl -= tokenExpiryMargin
	}
	if err := c.tokens.Set(ctx, token, ttl); err != nil {
		c.logger.Warn("token cache write failed", "error", err)
	}

	c.logger.Debug("mpesa access token acquired", "expires_in_seconds", int(ttl.Seconds()))
	return token, nil
}

func (c *Client) requestToken(ctx context.Context) (string, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", 0, &GatewayAuthError{Err: err}
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", 0, &GatewayAuthError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", 0, &GatewayAuthError{StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", 0, &GatewayAuthError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
	}

	var tokenResp gatewayDatamodel.TokenResponse
	if err := json.Unmarshal(body, &tokenResp); err != nil {
		return "", 0, &GatewayAuthError{StatusCode: resp.StatusCode, Message: "malformed token response", Err: err}
	}
	if tokenResp.AccessToken == "" {
		return "", 0, &GatewayAuthError{StatusCode: resp.StatusCode, Message: "empty access token"}
	}

	ttl := defaultTokenTTL
	if secs, err := tokenResp.ExpiresIn.Int64(); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}
	return tokenResp.AccessToken, ttl, nil
}

// InitiatePush sends the STK prompt to the customer's phone.
func (c *Client) InitiatePush(ctx context.Context, req PushRequest) (*PushResult, error) {
	amount := req.Amount.Round(0).IntPart()
	if amount < 1 {
		return nil, ErrInvalidAmount
	}

	ctx, span := tracer.Start(ctx, "mpesa.stkpush")
	defer span.End()

	token, err := c.AcquireAccessToken(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	phone := NormalizePhoneNumber(req.PhoneNumber)
	timestamp := Timestamp(c.now())

	payload := gatewayDatamodel.STKPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          BuildSignature(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   c.cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(req.AccountReference, maxAccountRefLen),
		TransactionDesc:   truncate(req.Description, maxTransactionDesc),
	}

	c.logger.Info("initiating stk push",
		"phone_number", MaskPhoneNumber(phone),
		"amount", amount,
		"account_reference", payload.AccountReference)

	start := c.now()
	var pushResp gatewayDatamodel.STKPushResponse
	err = c.postJSON(ctx, OpPush, pushPath, token, payload, &pushResp)
	if err == nil && pushResp.ResponseCode != "0" {
		err = &GatewayRequestError{Op: OpPush, Code: pushResp.ResponseCode, Message: pushResp.ResponseDescription}
	}
	if err == nil && pushResp.CheckoutRequestID == "" {
		err = &GatewayRequestError{Op: OpPush, Message: "response missing CheckoutRequestID"}
	}
	c.observe(OpPush, err, start)
	if err != nil {
		recordSpanError(span, err)
		c.logger.Error("stk push failed", "error", err, "account_reference", payload.AccountReference)
		return nil, err
	}

	span.SetAttributes(
		attribute.String("mpesa.merchant_request_id", pushResp.MerchantRequestID),
		attribute.String("mpesa.checkout_request_id", pushResp.CheckoutRequestID),
	)

	c.logger.Info("stk push accepted",
		"merchant_request_id", pushResp.MerchantRequestID,
		"checkout_request_id", pushResp.CheckoutRequestID)

	return &PushResult{
		MerchantRequestID:   pushResp.MerchantRequestID,
		CheckoutRequestID:   pushResp.CheckoutRequestID,
		CustomerMessage:     pushResp.CustomerMessage,
		ResponseDescription: pushResp.ResponseDescription,
	}, nil
}

// QueryStatus asks the provider for the outcome of a previous push. A push the
// provider is still working on yields an error wrapping ErrRequestInProcess.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*QueryResult, error) {
	ctx, span := tracer.Start(ctx, "mpesa.stkquery", trace.WithAttributes(
		attribute.String("mpesa.checkout_request_id", checkoutRequestID),
	))
	defer span.End()

	token, err := c.AcquireAccessToken(ctx)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}

	timestamp := Timestamp(c.now())
	payload := gatewayDatamodel.STKQueryRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          BuildSignature(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		CheckoutRequestID: checkoutRequestID,
	}

	start := c.now()
	var queryResp gatewayDatamodel.STKQueryResponse
	err = c.postJSON(ctx, OpQuery, queryPath, token, payload, &queryResp)
	if err == nil && queryResp.ResultCode == nil {
		err = &GatewayRequestError{Op: OpQuery, Code: queryResp.ResponseCode, Message: queryResp.ResponseDescription, Err: ErrRequestInProcess}
	}
	if err == nil && queryResp.ResultCode.Int() == gatewayDatamodel.ResultCodeStillProcessing {
		err = &GatewayRequestError{Op: OpQuery, Message: queryResp.ResultDesc, Err: ErrRequestInProcess}
	}
	c.observe(OpQuery, err, start)
	if err != nil {
		if errors.Is(err, ErrRequestInProcess) {
			c.logger.Info("stk query: request still in process", "checkout_request_id", checkoutRequestID)
			return nil, err
		}
		recordSpanError(span, err)
		c.logger.Error("stk query failed", "error", err, "checkout_request_id", checkoutRequestID)
		return nil, err
	}

	span.SetAttributes(attribute.Int("mpesa.result_code", queryResp.ResultCode.Int()))

	return &QueryResult{
		MerchantRequestID: queryResp.MerchantRequestID,
		CheckoutRequestID: queryResp.CheckoutRequestID,
		ResultCode:        *queryResp.ResultCode,
		ResultDesc:        queryResp.ResultDesc,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, op, path, token string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &GatewayRequestError{Op: op, Message: "marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return &GatewayRequestError{Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &GatewayRequestError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &GatewayRequestError{Op: op, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var errResp gatewayDatamodel.ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		reqErr := &GatewayRequestError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Code:       errResp.ErrorCode,
			Message:    errorMessage(respBody),
		}
		if op == OpQuery && errResp.ErrorCode == gatewayDatamodel.ErrorCodeRequestInProcess {
			reqErr.Err = ErrRequestInProcess
		}
		return reqErr
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return &GatewayRequestError{Op: op, StatusCode: resp.StatusCode, Message: "malformed response", Err: err}
	}
	return nil
}

func (c *Client) observe(op string, err error, start time.Time) {
	if c.recorder == nil {
		return
	}
	outcome := "success"
	switch {
	case errors.Is(err, ErrRequestInProcess):
		outcome = "pending"
	case err != nil:
		outcome = "error"
	}
	c.recorder.ObserveGatewayCall(op, outcome, c.now().Sub(start))
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

func errorMessage(body []byte) string {
	var errResp gatewayDatamodel.ErrorResponse
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.ErrorMessage != "" {
		return errResp.ErrorMessage
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
