package btzpay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "secret", Timeout: 2 * time.Second})
	require.NoError(t, err)
	return c
}

func TestCreateIntent(t *testing.T) {
	var got map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/qris/create", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Write([]byte(`{"success":true,"data":{"transactionId":"T1","accessKey":"K1","paymentUrl":"U1","expiredAt":"2026-10-15T10:00:00Z","status":"pending"}}`))
	})

	intent, err := c.CreateIntent(context.Background(), CreateIntentRequest{
		Amount:    12000,
		TimeoutMs: 900000,
		Notes:     "SUB user=1 plan=7d",
		Metadata:  map[string]any{"plan": "7d"},
	})
	require.NoError(t, err)
	assert.Equal(t, "T1", intent.TransactionID)
	assert.Equal(t, "K1", intent.AccessKey)
	assert.Equal(t, "U1", intent.PaymentURL)
	assert.Equal(t, "pending", intent.Status)
	assert.Equal(t, time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC), intent.ExpiresAt)

	assert.Equal(t, "secret", got["apikey"])
	assert.Equal(t, float64(12000), got["amount"])
	assert.Equal(t, float64(900000), got["timeout"])
	assert.Equal(t, "SUB user=1 plan=7d", got["notes"])
	assert.NotContains(t, got, "callback_url")
}

func TestGetStatus(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/api/qris/transaction/T 1", r.URL.Path)
		assert.Equal(t, "K&1", r.URL.Query().Get("key"))
		w.Write([]byte(`{"success":true,"data":{"status":"sukses","amount":12000}}`))
	})

	st, err := c.GetStatus(context.Background(), "T 1", "K&1")
	require.NoError(t, err)
	assert.Equal(t, "sukses", st.Status)
	assert.Equal(t, StatusSuccess, st.Normalized())
	assert.Equal(t, float64(12000), st.Raw["amount"])
}

func TestCancelIntent(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/qris/cancel/T1", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "secret", body["apikey"])
		assert.Equal(t, "User cancelled", body["reason"])
		w.Write([]byte(`{"success":true}`))
	})

	ack, err := c.CancelIntent(context.Background(), "T1", "")
	require.NoError(t, err)
	assert.Empty(t, ack)
}

func TestErrorTaxonomy(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		kind    error
		message string
	}{
		{name: "http error", status: http.StatusUnauthorized, body: `{"success":false,"message":"bad key"}`, kind: ErrRejected},
		{name: "server error", status: http.StatusBadGateway, body: `upstream down`, kind: ErrRejected},
		{name: "application failure", status: http.StatusOK, body: `{"success":false,"message":"amount too small"}`, kind: ErrRejected, message: "amount too small"},
		{name: "missing data", status: http.StatusOK, body: `{"success":true}`, kind: ErrRejected},
		{name: "missing transaction id", status: http.StatusOK, body: `{"success":true,"data":{"accessKey":"K"}}`, kind: ErrRejected},
		{name: "not json", status: http.StatusOK, body: `<html>oops</html>`, kind: ErrProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})

			_, err := c.CreateIntent(context.Background(), CreateIntentRequest{Amount: 1, TimeoutMs: 1})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.kind)

			var gwErr *Error
			require.True(t, errors.As(err, &gwErr))
			assert.Equal(t, "create", gwErr.Op)
			if tt.message != "" {
				assert.Equal(t, tt.message, gwErr.Message)
			}
			assert.False(t, gwErr.Timeout())
		})
	}
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	base := srv.URL
	srv.Close()

	c, err := NewClient(Config{BaseURL: base, APIKey: "k", Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.GetStatus(context.Background(), "T1", "K1")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestTimeoutIsUnavailableAndFlagged(t *testing.T) {
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.CreateIntent(ctx, CreateIntentRequest{Amount: 1, TimeoutMs: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, IsTimeout(err))
}

func TestNormalizeStatus(t *testing.T) {
	cases := map[string]Status{
		"":          StatusPending,
		"PENDING":   StatusPending,
		"sukses":    StatusSuccess,
		"Success":   StatusSuccess,
		"expired":   StatusExpired,
		"gagal":     StatusFailed,
		"failed":    StatusFailed,
		"cancel":    StatusCancelled,
		"cancelled": StatusCancelled,
		"refunding": StatusUnknown,
	}
	for raw, want := range cases {
		assert.Equal(t, want, NormalizeStatus(raw), raw)
	}
	assert.True(t, StatusExpired.Terminal())
	assert.False(t, StatusUnknown.Terminal())
	assert.False(t, StatusPending.Terminal())
}

func TestParseGatewayTime(t *testing.T) {
	want := time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

	assert.Equal(t, want, parseGatewayTime(json.RawMessage(`"2026-10-15T10:00:00Z"`)))
	assert.Equal(t, want, parseGatewayTime(json.RawMessage(`1792058400`)))
	assert.Equal(t, want, parseGatewayTime(json.RawMessage(`1792058400000`)))
	assert.Equal(t, want, parseGatewayTime(json.RawMessage(`"1792058400000"`)))
	assert.True(t, parseGatewayTime(json.RawMessage(`null`)).IsZero())
	assert.True(t, parseGatewayTime(nil).IsZero())
	assert.True(t, parseGatewayTime(json.RawMessage(`"soon"`)).IsZero())
}
