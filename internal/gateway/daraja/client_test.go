package daraja

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func testClient(baseURL string) *Client {
	return NewClient(Config{
		SandboxBaseURL:    baseURL,
		ProductionBaseURL: baseURL,
		CallbackURL:       "https://example.test/webhooks/mpesa",
		TokenTimeout:      2 * time.Second,
		PushTimeout:       2 * time.Second,
	}, zap.NewNop(), nil)
}

func writeToken(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(map[string]string{
		"access_token": "tok-1",
		"expires_in":   "3599",
	})
}

func writeAck(w http.ResponseWriter) {
	json.NewEncoder(w).Encode(PushResponse{
		MerchantRequestID:   "mr-1",
		CheckoutRequestID:   "ws_CO_1",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	})
}

func TestPasswordFormat(t *testing.T) {
	at := time.Date(2025, 6, 1, 14, 30, 45, 0, time.UTC)
	password, timestamp := Password("174379", "passkey", at)

	if timestamp != "20250601143045" {
		t.Fatalf("timestamp = %s", timestamp)
	}
	decoded, err := base64.StdEncoding.DecodeString(password)
	if err != nil {
		t.Fatalf("password is not base64: %v", err)
	}
	if string(decoded) != "174379passkey20250601143045" {
		t.Fatalf("password payload = %s", decoded)
	}
}

func TestTokenIsCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "ck" || pass != "cs" {
			t.Errorf("bad basic auth: %s %s", user, pass)
		}
		writeToken(w)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		token, err := client.Token(ctx, EnvironmentSandbox, "ck", "cs")
		if err != nil {
			t.Fatalf("token: %v", err)
		}
		if token != "tok-1" {
			t.Fatalf("token = %s", token)
		}
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("expected 1 token fetch, got %d", got)
	}

	client.InvalidateToken(EnvironmentSandbox, "ck")
	if _, err := client.Token(ctx, EnvironmentSandbox, "ck", "cs"); err != nil {
		t.Fatalf("token after invalidate: %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected refetch after invalidate, got %d hits", got)
	}
}

func TestPushRetriesTransientFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeAck(w)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	ack, err := client.Push(context.Background(), EnvironmentSandbox, "tok-1", PushRequest{})
	if err != nil {
		t.Fatalf("push: %v", err)
	}
	if ack.CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("checkout id = %s", ack.CheckoutRequestID)
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestPushExhaustsRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.Push(context.Background(), EnvironmentSandbox, "tok-1", PushRequest{})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != pushAttempts {
		t.Fatalf("expected %d attempts, got %d", pushAttempts, got)
	}
}

func TestPushUnauthorizedNotRetried(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.Push(context.Background(), EnvironmentSandbox, "tok-stale", PushRequest{})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Fatalf("401 must not be retried, got %d attempts", got)
	}
}

func TestPushProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"errorMessage":"Invalid Amount"}`))
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.Push(context.Background(), EnvironmentSandbox, "tok-1", PushRequest{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
	if reqErr.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d", reqErr.StatusCode)
	}
}

func TestPushRejectsNonZeroResponseCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(PushResponse{
			ResponseCode:        "1",
			ResponseDescription: "Insufficient funds on shortcode",
		})
	}))
	defer srv.Close()

	client := testClient(srv.URL)
	_, err := client.Push(context.Background(), EnvironmentSandbox, "tok-1", PushRequest{})
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected RequestError, got %v", err)
	}
}
