package paystack

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/ratelimit"
	"github.com/goliatone/go-reconciler/transport"
)

func TestVerifyTransaction_MapsProviderStatuses(t *testing.T) {
	cases := map[string]core.ProviderOutcome{
		"success":    core.ProviderOutcomeVerified,
		"failed":     core.ProviderOutcomeFailed,
		"abandoned":  core.ProviderOutcomeFailed,
		"reversed":   core.ProviderOutcomeFailed,
		"pending":    core.ProviderOutcomeInconclusive,
		"ongoing":    core.ProviderOutcomeInconclusive,
		"processing": core.ProviderOutcomeInconclusive,
		"queued":     core.ProviderOutcomeInconclusive,
		"mystery":    core.ProviderOutcomeInconclusive,
	}
	for status, want := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/transaction/verify/TX1" {
				t.Errorf("unexpected path %q", r.URL.Path)
			}
			if r.Header.Get("Authorization") != "Bearer sk_test" {
				t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
			}
			_, _ = w.Write([]byte(`{"status":true,"message":"Verification successful","data":{"status":"` + status + `","reference":"TX1","amount":5000,"currency":"NGN"}}`))
		}))
		client := newTestClient(t, server)

		result, err := client.VerifyTransaction(context.Background(), "TX1")
		server.Close()
		if err != nil {
			t.Fatalf("%s: verify: %v", status, err)
		}
		if result.Outcome != want {
			t.Fatalf("%s: expected %s, got %s", status, want, result.Outcome)
		}
		if result.ProviderStatus != status {
			t.Fatalf("%s: expected provider status preserved, got %q", status, result.ProviderStatus)
		}
	}
}

func TestVerifyTransaction_UnknownReferenceIsInconclusive(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":false,"message":"Transaction reference not found"}`))
	}))
	defer server.Close()

	result, err := newTestClient(t, server).VerifyTransaction(context.Background(), "TX404")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if result.Outcome != core.ProviderOutcomeInconclusive {
		t.Fatalf("expected inconclusive, got %s", result.Outcome)
	}
}

func TestVerifyTransaction_ServerErrorIsProviderQueryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	_, err := newTestClient(t, server).VerifyTransaction(context.Background(), "TX1")
	if !core.IsProviderQueryFailure(err) {
		t.Fatalf("expected provider query failure, got %v", err)
	}
}

func TestVerifyTransaction_GarbledBodyIsProviderQueryFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<html>gateway</html>`))
	}))
	defer server.Close()

	_, err := newTestClient(t, server).VerifyTransaction(context.Background(), "TX1")
	if !core.IsProviderQueryFailure(err) {
		t.Fatalf("expected provider query failure, got %v", err)
	}
}

func TestVerifyTransaction_TooManyRequestsThrottlesNextCall(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client, err := New(Config{
		BaseURL:   server.URL,
		SecretKey: "sk_test",
		Limiter:   ratelimit.NewAdaptivePolicy(ratelimit.NewMemoryStateStore()),
	}, transport.NewRESTAdapter(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	_, err = client.VerifyTransaction(context.Background(), "TX1")
	if !core.IsProviderQueryFailure(err) {
		t.Fatalf("expected provider query failure on 429, got %v", err)
	}
	_, err = client.VerifyTransaction(context.Background(), "TX2")
	if !core.IsProviderQueryFailure(err) {
		t.Fatalf("expected throttled call to be a provider query failure, got %v", err)
	}
	if core.StatusCode(err) != http.StatusTooManyRequests {
		t.Fatalf("expected throttled status 429, got %d", core.StatusCode(err))
	}
	if calls.Load() != 1 {
		t.Fatalf("expected throttled call to skip the provider, got %d calls", calls.Load())
	}
}

func TestNew_RequiresSecret(t *testing.T) {
	if _, err := New(Config{}, nil); err == nil {
		t.Fatalf("expected missing secret to fail")
	}
}

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()
	client, err := New(Config{BaseURL: server.URL + "/", SecretKey: "sk_test"}, transport.NewRESTAdapter(server.Client()))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client
}
