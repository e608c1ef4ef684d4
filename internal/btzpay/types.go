package btzpay

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Status is a normalised transaction status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSuccess   Status = "success"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	StatusUnknown   Status = "unknown"
)

// Terminal reports whether no further transitions happen after s.
func (s Status) Terminal() bool {
	switch s {
	case StatusSuccess, StatusExpired, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// NormalizeStatus maps the gateway's status strings (Indonesian and English)
// onto Status. Unrecognised values map to StatusUnknown.
func NormalizeStatus(raw string) Status {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "pending":
		return StatusPending
	case "sukses", "success", "paid", "settlement":
		return StatusSuccess
	case "expired":
		return StatusExpired
	case "gagal", "failed":
		return StatusFailed
	case "cancel", "cancelled", "canceled":
		return StatusCancelled
	}
	return StatusUnknown
}

// CreateIntentRequest is the input of CreateIntent.
type CreateIntentRequest struct {
	Amount      int64
	TimeoutMs   int64
	Notes       string
	Metadata    map[string]any
	CallbackURL string
}

// Intent is a payment request created on the gateway.
type Intent struct {
	TransactionID string
	AccessKey     string
	PaymentURL    string
	ExpiresAt     time.Time
	Status        string
}

// TransactionStatus is the result of GetStatus. Raw keeps every field of the
// gateway's data object for display.
type TransactionStatus struct {
	Status string
	Raw    map[string]any
}

// Normalized returns the normalised status.
func (t *TransactionStatus) Normalized() Status {
	return NormalizeStatus(t.Status)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e envelope) hasData() bool {
	d := bytes.TrimSpace(e.Data)
	return len(d) > 0 && !bytes.Equal(d, []byte("null"))
}

type createPayload struct {
	APIKey      string         `json:"apikey"`
	Amount      int64          `json:"amount"`
	Timeout     int64          `json:"timeout"`
	CallbackURL string         `json:"callback_url,omitempty"`
	Notes       string         `json:"notes,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

type cancelPayload struct {
	APIKey string `json:"apikey"`
	Reason string `json:"reason"`
}

type intentData struct {
	TransactionID string          `json:"transactionId"`
	AccessKey     string          `json:"accessKey"`
	PaymentURL    string          `json:"paymentUrl"`
	ExpiredAt     json.RawMessage `json:"expiredAt"`
	Status        string          `json:"status"`
}

// parseGatewayTime accepts RFC 3339 strings, epoch seconds and epoch
// milliseconds, either as JSON numbers or numeric strings.
func parseGatewayTime(raw json.RawMessage) time.Time {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return time.Time{}
	}
	if unq, err := strconv.Unquote(s); err == nil {
		s = strings.TrimSpace(unq)
	}
	if s == "" {
		return time.Time{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC()
		}
		return time.Unix(n, 0).UTC()
	}
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
