package llm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/axonlabs/scopeguard/model"
)

// EmbedRequest defines an embeddings request.
type EmbedRequest struct {
	// Capability specifies the semantic capability, normally "embed".
	Capability string

	// Texts are the inputs to embed. Order is preserved in the response.
	Texts []string
}

// EmbedResponse contains the embedding vectors.
type EmbedResponse struct {
	// Model is the actual model that was used.
	Model string

	// Vectors holds one embedding per input text, in input order.
	Vectors [][]float32
}

// Embed generates embeddings for the given texts, handling retry and
// fallback the same way Complete does. Endpoints whose provider does not
// implement Embedder are skipped.
func (c *Client) Embed(ctx context.Context, req EmbedRequest) (*EmbedResponse, error) {
	if req.Capability == "" {
		req.Capability = string(model.CapabilityEmbed)
	}
	if len(req.Texts) == 0 {
		return nil, fmt.Errorf("at least one text is required")
	}

	capVal := model.ParseCapability(req.Capability)
	if capVal == "" {
		capVal = model.CapabilityEmbed
	}
	chain := c.registry.GetAvailableFallbackChain(capVal)

	if len(chain) == 0 {
		return nil, fmt.Errorf("no models configured for capability %s", req.Capability)
	}

	var lastErr error

	for _, modelName := range chain {
		endpoint := c.registry.GetEndpoint(modelName)
		if endpoint == nil {
			c.logger.Debug("No endpoint for model, skipping", "model", modelName)
			continue
		}

		if !c.registry.IsEndpointAvailable(modelName) {
			c.logger.Debug("Endpoint circuit open, skipping", "model", modelName)
			continue
		}

		embedder, ok := GetProvider(endpoint.Provider).(Embedder)
		if !ok {
			c.logger.Debug("Provider has no embeddings API, skipping",
				"model", modelName,
				"provider", endpoint.Provider)
			continue
		}

		resp, err := c.tryEmbedWithRetry(ctx, endpoint, embedder, modelName, req)
		if err == nil {
			return resp, nil
		}

		lastErr = err

		c.logger.Warn("Embed endpoint failed, trying fallback",
			"model", modelName,
			"provider", endpoint.Provider,
			"error", err)

		if IsFatal(err) {
			c.logger.Warn("Fatal error, not trying fallbacks", "error", err)
			return nil, err
		}
	}

	return nil, fmt.Errorf("all endpoints failed for capability %s: %w", req.Capability, lastErr)
}

// tryEmbedWithRetry attempts an embeddings request with retry logic.
func (c *Client) tryEmbedWithRetry(ctx context.Context, ep *model.EndpointConfig, embedder Embedder, modelName string, req EmbedRequest) (*EmbedResponse, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doEmbedRequest(ctx, ep, embedder, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(modelName)
			return resp, nil
		}

		lastErr = err

		if IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			c.logger.Debug("Embed request failed, retrying",
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	c.registry.MarkEndpointFailure(modelName)

	return nil, lastErr
}

// doEmbedRequest executes a single HTTP request to the embeddings endpoint.
func (c *Client) doEmbedRequest(ctx context.Context, ep *model.EndpointConfig, embedder Embedder, req EmbedRequest) (*EmbedResponse, error) {
	provider := GetProvider(ep.Provider)
	if provider == nil {
		return nil, NewFatalError(fmt.Errorf("unknown provider: %s", ep.Provider))
	}

	url := embedder.BuildEmbedURL(ep.URL)

	body, err := embedder.BuildEmbedRequestBody(ep.Model, req.Texts)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("build embed request body: %w", err))
	}

	c.logger.Debug("Sending embeddings request",
		"provider", ep.Provider,
		"model", ep.Model,
		"url", url,
		"texts", len(req.Texts))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	provider.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	vectors, err := embedder.ParseEmbedResponse(respBody)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("parse embed response: %w", err))
	}
	if len(vectors) != len(req.Texts) {
		return nil, NewFatalError(fmt.Errorf("embed response has %d vectors for %d texts", len(vectors), len(req.Texts)))
	}

	return &EmbedResponse{Model: ep.Model, Vectors: vectors}, nil
}
