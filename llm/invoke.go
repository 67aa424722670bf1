package llm

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// DecodingMode selects how the model output is constrained.
type DecodingMode string

const (
	// DecodingFree lets the model produce free-form text. The caller is
	// expected to extract structured content itself.
	DecodingFree DecodingMode = "free"

	// DecodingConstrained asks the provider to lock output to JSON,
	// optionally against a schema. Used for small models whose free-form
	// output is unreliable.
	DecodingConstrained DecodingMode = "constrained"
)

// ErrorCode classifies model service failures.
type ErrorCode string

const (
	ErrCodeTimeout            ErrorCode = "timeout"
	ErrCodeQuotaExceeded      ErrorCode = "quota_exceeded"
	ErrCodeInvalidCredentials ErrorCode = "invalid_credentials"
	ErrCodeUnknown            ErrorCode = "unknown"
)

// InvokeError wraps a model service failure with its classification.
type InvokeError struct {
	Code ErrorCode
	Err  error
}

func (e *InvokeError) Error() string {
	return fmt.Sprintf("model service error (%s): %v", e.Code, e.Err)
}

func (e *InvokeError) Unwrap() error {
	return e.Err
}

// CodeOf returns the service error code carried by err, or ErrCodeUnknown
// if err is not an InvokeError.
func CodeOf(err error) ErrorCode {
	var invokeErr *InvokeError
	if errors.As(err, &invokeErr) {
		return invokeErr.Code
	}
	return ErrCodeUnknown
}

// Invoker sends an assembled prompt to a model and returns its raw output.
// It exists so callers can be tested against a stub without HTTP plumbing.
type Invoker interface {
	Invoke(ctx context.Context, prompt, schema string, mode DecodingMode) (string, error)
}

// ClientInvoker adapts a Client to the Invoker interface for a fixed
// capability.
type ClientInvoker struct {
	client      *Client
	capability  string
	temperature *float64
	maxTokens   int
}

// InvokerOption configures a ClientInvoker.
type InvokerOption func(*ClientInvoker)

// WithInvokerTemperature sets an explicit sampling temperature.
func WithInvokerTemperature(t float64) InvokerOption {
	return func(inv *ClientInvoker) {
		inv.temperature = &t
	}
}

// WithInvokerMaxTokens caps the response length.
func WithInvokerMaxTokens(n int) InvokerOption {
	return func(inv *ClientInvoker) {
		inv.maxTokens = n
	}
}

// NewClientInvoker creates an Invoker that completes prompts through the
// given client under the given capability.
func NewClientInvoker(client *Client, capability string, opts ...InvokerOption) *ClientInvoker {
	inv := &ClientInvoker{
		client:     client,
		capability: capability,
	}

	for _, opt := range opts {
		opt(inv)
	}

	return inv
}

// Invoke sends the prompt as a single user message and returns the raw
// model output. Service failures are classified into an InvokeError.
func (inv *ClientInvoker) Invoke(ctx context.Context, prompt, schema string, mode DecodingMode) (string, error) {
	req := Request{
		Capability:  inv.capability,
		Messages:    []Message{{Role: "user", Content: prompt}},
		Temperature: inv.temperature,
		MaxTokens:   inv.maxTokens,
	}
	if mode == DecodingConstrained {
		req.JSONMode = true
		req.Schema = schema
	}

	resp, err := inv.client.Complete(ctx, req)
	if err != nil {
		return "", ClassifyInvokeError(err)
	}

	return resp.Content, nil
}

// ClassifyInvokeError maps a client error onto a service error code.
func ClassifyInvokeError(err error) *InvokeError {
	code := ErrCodeUnknown

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		code = ErrCodeTimeout
	case isNetTimeout(err):
		code = ErrCodeTimeout
	default:
		switch StatusOf(err) {
		case 429:
			code = ErrCodeQuotaExceeded
		case 401, 403:
			code = ErrCodeInvalidCredentials
		}
	}

	return &InvokeError{Code: code, Err: err}
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
