package transport

import (
	"context"
	"time"
)

type Request struct {
	Method               string
	URL                  string
	Query                map[string]string
	Headers              map[string]string
	Body                 []byte
	Timeout              time.Duration
	MaxResponseBodyBytes int64
}

type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

// Doer executes an outbound provider call.
type Doer interface {
	Do(ctx context.Context, req Request) (Response, error)
}
