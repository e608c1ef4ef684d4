package btzpay

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/net/proxy"

	"subgate/internal/metrics"
)

const (
	DefaultBaseURL = "https://web.btzpay.my.id"
	DefaultTimeout = 20 * time.Second

	maxResponseBody = 1 << 20
	maxMessageLen   = 300
)

// Config configures a Client.
type Config struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	ProxyURL  string // optional socks5:// or socks5h:// egress proxy
}

// Client is a minimal binding to the BTZPay QRIS API:
//
//	POST /api/qris/create
//	GET  /api/qris/transaction/:transactionId?key=ACCESS_KEY
//	POST /api/qris/cancel/:transactionId
//
// It never retries; the caller owns retry policy.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	cb         *gobreaker.CircuitBreaker
}

// NewClient builds a client. An empty BaseURL falls back to DefaultBaseURL and
// a zero Timeout to DefaultTimeout.
func NewClient(cfg Config) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid btzpay base url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	httpClient, err := newHTTPClient(timeout, cfg.ProxyURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		baseURL:    base,
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}
	c.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "btzpay",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
		// Only transport failures say anything about gateway health.
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, ErrUnavailable)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			metrics.GatewayBreakerState.Set(float64(to))
			log.Warn().
				Str("component", "btzpay").
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
		},
	})
	return c, nil
}

func newHTTPClient(timeout time.Duration, proxyURL string) (*http.Client, error) {
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return &http.Client{Timeout: timeout}, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid proxy url %q", proxyURL)
	}
	dialer, err := proxy.FromURL(u, proxy.Direct)
	if err != nil {
		return nil, fmt.Errorf("create socks5 dialer: %w", err)
	}
	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			return cd.DialContext(ctx, network, addr)
		}
		return dialer.Dial(network, addr)
	}
	transport := &http.Transport{
		DialContext:           dialContext,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Transport: transport, Timeout: timeout}, nil
}

// CreateIntent creates a QRIS payment request.
func (c *Client) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	payload := createPayload{
		APIKey:      c.apiKey,
		Amount:      req.Amount,
		Timeout:     req.TimeoutMs,
		CallbackURL: req.CallbackURL,
		Notes:       req.Notes,
		Metadata:    req.Metadata,
	}

	env, err := c.call(ctx, "create", http.MethodPost, "/api/qris/create", payload)
	if err != nil {
		return nil, err
	}
	if !env.hasData() {
		return nil, &Error{Op: "create", Kind: ErrRejected, Message: "response has no data"}
	}

	var data intentData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, &Error{Op: "create", Kind: ErrProtocol, Message: "cannot decode data", Err: err}
	}
	if data.TransactionID == "" || data.AccessKey == "" {
		return nil, &Error{Op: "create", Kind: ErrRejected, Message: "response is missing transactionId or accessKey"}
	}

	status := data.Status
	if status == "" {
		status = string(StatusPending)
	}
	return &Intent{
		TransactionID: data.TransactionID,
		AccessKey:     data.AccessKey,
		PaymentURL:    data.PaymentURL,
		ExpiresAt:     parseGatewayTime(data.ExpiredAt),
		Status:        status,
	}, nil
}

// GetStatus fetches the current state of a transaction.
func (c *Client) GetStatus(ctx context.Context, transactionID, accessKey string) (*TransactionStatus, error) {
	path := "/api/qris/transaction/" + url.PathEscape(transactionID) + "?" + url.Values{"key": {accessKey}}.Encode()

	env, err := c.call(ctx, "status", http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if !env.hasData() {
		return nil, &Error{Op: "status", Kind: ErrRejected, Message: "response has no data"}
	}

	raw := make(map[string]any)
	if err := json.Unmarshal(env.Data, &raw); err != nil {
		return nil, &Error{Op: "status", Kind: ErrProtocol, Message: "cannot decode data", Err: err}
	}

	var status string
	if v, ok := raw["status"]; ok && v != nil {
		status = fmt.Sprint(v)
	}
	return &TransactionStatus{Status: status, Raw: raw}, nil
}

// CancelIntent asks the gateway to cancel a transaction. The result is the
// gateway's data object, or an empty map when it sent none.
func (c *Client) CancelIntent(ctx context.Context, transactionID, reason string) (map[string]any, error) {
	if reason == "" {
		reason = "User cancelled"
	}
	payload := cancelPayload{APIKey: c.apiKey, Reason: reason}

	env, err := c.call(ctx, "cancel", http.MethodPost, "/api/qris/cancel/"+url.PathEscape(transactionID), payload)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any)
	if env.hasData() {
		// Cancel acknowledgements are informational; a non-object data is ignored.
		_ = json.Unmarshal(env.Data, &out)
	}
	return out, nil
}

func (c *Client) call(ctx context.Context, op, method, path string, payload any) (envelope, error) {
	start := time.Now()

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.do(ctx, op, method, path, payload)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		err = &Error{Op: op, Kind: ErrUnavailable, Message: "circuit breaker open", Err: err}
	}

	metrics.GatewayRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	metrics.GatewayRequestsTotal.WithLabelValues(op, outcomeLabel(err)).Inc()

	if err != nil {
		log.Debug().
			Str("component", "btzpay").
			Str("op", op).
			Dur("took", time.Since(start)).
			Err(err).
			Msg("Gateway call failed")
		return envelope{}, err
	}
	return result.(envelope), nil
}

func (c *Client) do(ctx context.Context, op, method, path string, payload any) (envelope, error) {
	var body io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return envelope{}, &Error{Op: op, Kind: ErrProtocol, Message: "cannot encode request", Err: err}
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return envelope{}, &Error{Op: op, Kind: ErrUnavailable, Message: "cannot build request", Err: err}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return envelope{}, TransportError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return envelope{}, &Error{Op: op, Kind: ErrUnavailable, StatusCode: resp.StatusCode, Message: "cannot read response", Err: err, timeout: isTimeout(err)}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return envelope{}, &Error{Op: op, Kind: ErrRejected, StatusCode: resp.StatusCode, Message: truncate(respBody)}
	}

	var env envelope
	if err := json.Unmarshal(respBody, &env); err != nil {
		return envelope{}, &Error{Op: op, Kind: ErrProtocol, StatusCode: resp.StatusCode, Message: "invalid JSON: " + truncate(respBody), Err: err}
	}
	if !env.Success {
		msg := env.Message
		if msg == "" {
			msg = truncate(respBody)
		}
		return envelope{}, &Error{Op: op, Kind: ErrRejected, StatusCode: resp.StatusCode, Message: msg}
	}
	return env, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func truncate(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxMessageLen {
		return s[:maxMessageLen]
	}
	return s
}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrUnavailable):
		return "unavailable"
	case errors.Is(err, ErrRejected):
		return "rejected"
	case errors.Is(err, ErrProtocol):
		return "protocol"
	}
	return "error"
}
