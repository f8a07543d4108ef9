package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	KindREST = "rest"

	defaultClientTimeout    = 30 * time.Second
	defaultResponseMaxBytes = int64(1 << 20)
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RESTAdapter performs provider calls over HTTP and buffers the response.
type RESTAdapter struct {
	Client               HTTPDoer
	DefaultHeaders       map[string]string
	MaxResponseBodyBytes int64
}

func NewRESTAdapter(client HTTPDoer) *RESTAdapter {
	if client == nil {
		client = &http.Client{Timeout: defaultClientTimeout}
	}
	return &RESTAdapter{
		Client:               client,
		DefaultHeaders:       map[string]string{"Accept": "application/json"},
		MaxResponseBodyBytes: defaultResponseMaxBytes,
	}
}

func (a *RESTAdapter) Do(ctx context.Context, req Request) (Response, error) {
	if a == nil || a.Client == nil {
		return Response{}, failure(nil, goerrors.CategoryInternal, "transport: rest adapter requires an http client", map[string]any{})
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target, err := buildURL(req)
	if err != nil {
		return Response{}, err
	}
	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), bytes.NewReader(req.Body))
	if err != nil {
		return Response{}, failure(err, goerrors.CategoryBadInput, "transport: create http request", map[string]any{
			"method": method,
			"url":    redact(target),
		})
	}
	setHeaders(httpReq.Header, a.DefaultHeaders)
	setHeaders(httpReq.Header, req.Headers)

	startedAt := time.Now()
	httpRes, err := a.Client.Do(httpReq)
	if err != nil {
		message := "transport: execute http request"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			message = "transport: http request timed out"
		}
		return Response{}, failure(err, goerrors.CategoryExternal, message, map[string]any{
			"method":      method,
			"url":         redact(target),
			"duration_ms": time.Since(startedAt).Milliseconds(),
		})
	}
	defer httpRes.Body.Close()

	limit := a.MaxResponseBodyBytes
	if req.MaxResponseBodyBytes > 0 {
		limit = req.MaxResponseBodyBytes
	}
	if limit <= 0 {
		limit = defaultResponseMaxBytes
	}
	body, err := io.ReadAll(io.LimitReader(httpRes.Body, limit+1))
	if err != nil {
		return Response{}, failure(err, goerrors.CategoryExternal, "transport: read response body", map[string]any{
			"status_code": httpRes.StatusCode,
		})
	}
	if int64(len(body)) > limit {
		return Response{}, failure(nil, goerrors.CategoryExternal,
			fmt.Sprintf("transport: response body exceeds %d bytes", limit),
			map[string]any{"status_code": httpRes.StatusCode},
		)
	}

	headers := make(map[string]string, len(httpRes.Header))
	for key, values := range httpRes.Header {
		headers[key] = strings.Join(values, ",")
	}
	return Response{
		StatusCode: httpRes.StatusCode,
		Headers:    headers,
		Body:       body,
		Metadata: map[string]any{
			"kind":        KindREST,
			"duration_ms": time.Since(startedAt).Milliseconds(),
		},
	}, nil
}

func buildURL(req Request) (*url.URL, error) {
	raw := strings.TrimSpace(req.URL)
	if raw == "" {
		return nil, failure(nil, goerrors.CategoryBadInput, "transport: request url is required", map[string]any{})
	}
	target, err := url.Parse(raw)
	if err != nil {
		return nil, failure(err, goerrors.CategoryBadInput, "transport: invalid request url", map[string]any{"url": raw})
	}
	if len(req.Query) > 0 {
		query := target.Query()
		for key, value := range req.Query {
			if key = strings.TrimSpace(key); key != "" {
				query.Set(key, strings.TrimSpace(value))
			}
		}
		target.RawQuery = query.Encode()
	}
	return target, nil
}

func setHeaders(dst http.Header, headers map[string]string) {
	for key, value := range headers {
		if key = strings.TrimSpace(key); key != "" {
			dst.Set(key, strings.TrimSpace(value))
		}
	}
}

// redact drops credentials and the query string from u.
func redact(u *url.URL) string {
	clean := *u
	clean.RawQuery = ""
	clean.User = nil
	return clean.String()
}

var _ Doer = (*RESTAdapter)(nil)
