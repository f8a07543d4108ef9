package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-reconciler/core"
)

func TestRESTAdapter_ResponseLimitReturnsRichError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("12345"))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	adapter.MaxResponseBodyBytes = 4

	_, err := adapter.Do(context.Background(), Request{Method: http.MethodGet, URL: server.URL})
	if err == nil {
		t.Fatalf("expected response body limit error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryExternal {
		t.Fatalf("expected external category, got %q", rich.Category)
	}
	if !core.IsProviderQueryFailure(err) {
		t.Fatalf("expected provider query failure text code, got %q", rich.TextCode)
	}
	if rich.Code != http.StatusBadGateway {
		t.Fatalf("expected %d code, got %d", http.StatusBadGateway, rich.Code)
	}
}

func TestRESTAdapter_NilReturnsRichError(t *testing.T) {
	var adapter *RESTAdapter
	_, err := adapter.Do(context.Background(), Request{})
	if err == nil {
		t.Fatalf("expected rest adapter nil error")
	}

	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal category, got %q", rich.Category)
	}
	if rich.TextCode != core.ErrorInternal {
		t.Fatalf("expected %q text code, got %q", core.ErrorInternal, rich.TextCode)
	}
}

func TestRESTAdapter_ComposesQueryAndHeaders(t *testing.T) {
	var (
		gotAuth   string
		gotAccept string
		gotQuery  string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		gotQuery = r.URL.Query().Get("page")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":true}`))
	}))
	defer server.Close()

	adapter := NewRESTAdapter(server.Client())
	res, err := adapter.Do(context.Background(), Request{
		URL:     server.URL + "/transaction/verify/TX1",
		Query:   map[string]string{"page": "2"},
		Headers: map[string]string{"Authorization": "Bearer sk_test"},
	})
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	if res.StatusCode != http.StatusOK || string(res.Body) != `{"status":true}` {
		t.Fatalf("unexpected response %#v", res)
	}
	if gotAuth != "Bearer sk_test" || gotAccept != "application/json" || gotQuery != "2" {
		t.Fatalf("unexpected request auth=%q accept=%q page=%q", gotAuth, gotAccept, gotQuery)
	}
}

func TestRESTAdapter_TimeoutIsProviderQueryFailure(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	adapter := NewRESTAdapter(server.Client())
	_, err := adapter.Do(context.Background(), Request{URL: server.URL, Timeout: 20 * time.Millisecond})
	if !core.IsProviderQueryFailure(err) {
		t.Fatalf("expected provider query failure on timeout, got %v", err)
	}
}

func TestRESTAdapter_EmptyURLIsBadInput(t *testing.T) {
	_, err := NewRESTAdapter(nil).Do(context.Background(), Request{URL: "  "})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorBadInput || rich.Code != http.StatusBadRequest {
		t.Fatalf("unexpected envelope %q/%d", rich.TextCode, rich.Code)
	}
	if rich.Metadata["adapter"] != KindREST {
		t.Fatalf("expected adapter metadata, got %+v", rich.Metadata)
	}
}
