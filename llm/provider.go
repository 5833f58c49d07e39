package llm

import (
	"context"
	"time"
)

// OnDelta receives incremental content text while a streamed response is
// being generated. It is called from the adapter's reading goroutine and
// must not block for long.
type OnDelta func(text string)

// Provider is the normalized contract every backend adapter implements.
// RespondStream delivers tokens through onDelta as they arrive but still
// returns the final assembled Response, so callers are agnostic to
// streaming vs non-streaming.
type Provider interface {
	// Name identifies the backend, e.g. "openai" or "anthropic".
	Name() string

	// Respond sends a chat request and returns the normalized response.
	Respond(ctx context.Context, req *Request) (*Response, error)

	// RespondStream is Respond with incremental token delivery.
	RespondStream(ctx context.Context, req *Request, onDelta OnDelta) (*Response, error)

	// Close cleans up any resources
	Close() error
}

// ClientOptions contains options for creating a provider client
type ClientOptions struct {
	APIKey       string
	BaseURL      string
	Timeout      time.Duration
	MaxRetries   int
	DefaultModel string
	Organization string
	Headers      map[string]string
}

// ClientOption is a functional option for configuring clients
type ClientOption func(*ClientOptions)

// WithAPIKey sets the API key
func WithAPIKey(key string) ClientOption {
	return func(o *ClientOptions) {
		o.APIKey = key
	}
}

// WithBaseURL sets the base URL
func WithBaseURL(url string) ClientOption {
	return func(o *ClientOptions) {
		o.BaseURL = url
	}
}

// WithTimeout sets the request timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(o *ClientOptions) {
		o.Timeout = timeout
	}
}

// WithModel sets the default model
func WithModel(model string) ClientOption {
	return func(o *ClientOptions) {
		o.DefaultModel = model
	}
}

// WithMaxRetries sets the maximum number of retries
func WithMaxRetries(retries int) ClientOption {
	return func(o *ClientOptions) {
		o.MaxRetries = retries
	}
}

// WithOrganization sets the organization ID
func WithOrganization(org string) ClientOption {
	return func(o *ClientOptions) {
		o.Organization = org
	}
}

// WithHeaders sets additional headers
func WithHeaders(headers map[string]string) ClientOption {
	return func(o *ClientOptions) {
		if o.Headers == nil {
			o.Headers = make(map[string]string)
		}
		for k, v := range headers {
			o.Headers[k] = v
		}
	}
}
