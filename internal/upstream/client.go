// Package upstream sends internal requests to the Antigravity endpoint:
// wraps them in the required envelope, posts to one of several base URLs
// with ordered failover, and parses both batch and SSE-streamed responses.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nextlane/antigw/internal/aierrors"
	"github.com/nextlane/antigw/internal/geminiapi"
)

const (
	userAgentHeader      = "antigravity-gateway/1.0"
	goAPIClientHeader    = "gl-go/antigravity-gateway"
	clientMetadataHeader = "ideType=GATEWAY,platform=server"
)

// envelope is the wire shape posted to the upstream endpoint.
type envelope struct {
	Project     string                  `json:"project"`
	Model       string                  `json:"model"`
	Request     envelopeRequest         `json:"request"`
	UserAgent   string                  `json:"userAgent"`
	RequestID   string                  `json:"requestId"`
	RequestType string                  `json:"requestType"`
}

type envelopeRequest struct {
	geminiapi.InternalRequest
	SessionID string `json:"sessionId"`
}

type envelopeResponseWrapper struct {
	Response geminiapi.InternalResponse `json:"response"`
}

// Client posts envelopes to the configured endpoint chain.
type Client struct {
	httpClient *http.Client
	endpoints  []string // resolved base URLs, in failover order
	log        zerolog.Logger
}

func NewClient(httpClient *http.Client, endpointAliases []string, log zerolog.Logger) (*Client, error) {
	resolved := make([]string, 0, len(endpointAliases))
	for _, alias := range endpointAliases {
		u, err := ResolveBaseURL(alias)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, u)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("upstream client requires at least one endpoint")
	}
	return &Client{httpClient: httpClient, endpoints: resolved, log: log.With().Str("component", "upstream").Logger()}, nil
}

// buildEnvelope applies the fields the upstream endpoint requires to be
// forced or stripped, regardless of what the translator populated.
func buildEnvelope(projectID, model string, req geminiapi.InternalRequest, family string) envelope {
	if req.SystemInstruction != nil {
		req.SystemInstruction.Role = geminiapi.RoleUser
	}
	req.ToolConfig = &geminiapi.ToolConfig{FunctionCallingMode: geminiapi.ModeValidated}
	if family != "claude" {
		req.GenerationConfig.MaxOutputTokens = nil
	}

	return envelope{
		Project: projectID,
		Model:   model,
		Request: envelopeRequest{
			InternalRequest: req,
			SessionID:       req.SessionID,
		},
		UserAgent:   "antigravity",
		RequestID:   "agent-" + uuid.NewString(),
		RequestType: "agent",
	}
}

func (c *Client) newRequest(ctx context.Context, url, token string, body []byte) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgentHeader)
	req.Header.Set("X-Goog-Api-Client", goAPIClientHeader)
	req.Header.Set("Client-Metadata", clientMetadataHeader)
	return req, nil
}

// Generate performs a single non-streaming call, advancing through the
// endpoint chain.5's failover rules.
func (c *Client) Generate(ctx context.Context, projectID, model, token, family string, req geminiapi.InternalRequest) (*geminiapi.InternalResponse, error) {
	env := buildEnvelope(projectID, model, req, family)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream envelope: %w", err)
	}

	var lastErr error
	for i, base := range c.endpoints {
		hasMore := i < len(c.endpoints)-1
		resp, err := c.doOnce(ctx, generateURL(base), token, body)
		if err != nil {
			lastErr = err
			if hasMore {
				c.log.Debug().Err(err).Str("endpoint", base).Msg("endpoint failed, advancing")
				continue
			}
			return nil, lastErr
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			raw, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read upstream response: %w", err)
			}
			var wrapper envelopeResponseWrapper
			if err := json.Unmarshal(raw, &wrapper); err != nil {
				return nil, fmt.Errorf("decode upstream response: %w", err)
			}
			return &wrapper.Response, nil
		}

		raw, _ := io.ReadAll(resp.Body)
		kind := aierrors.Classify(resp.StatusCode, string(raw))
		if hasMore && aierrors.IsRetryableOnAnotherEndpoint(resp.StatusCode) {
			c.log.Debug().Int("status", resp.StatusCode).Str("endpoint", base).Msg("endpoint returned retryable status, advancing")
			lastErr = &aierrors.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw), Kind: kind}
			continue
		}
		return nil, &aierrors.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw), Kind: kind}
	}
	return nil, lastErr
}

// StreamGenerate performs a streaming call and returns a Stream that
// yields unwrapped response chunks until the upstream signals completion.
func (c *Client) StreamGenerate(ctx context.Context, projectID, model, token, family string, req geminiapi.InternalRequest) (*Stream, error) {
	env := buildEnvelope(projectID, model, req, family)
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal upstream envelope: %w", err)
	}

	var lastErr error
	for i, base := range c.endpoints {
		hasMore := i < len(c.endpoints)-1
		resp, err := c.doOnce(ctx, streamGenerateURL(base), token, body)
		if err != nil {
			lastErr = err
			if hasMore {
				continue
			}
			return nil, lastErr
		}

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return newStream(resp.Body), nil
		}

		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		kind := aierrors.Classify(resp.StatusCode, string(raw))
		if hasMore && aierrors.IsRetryableOnAnotherEndpoint(resp.StatusCode) {
			lastErr = &aierrors.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw), Kind: kind}
			continue
		}
		return nil, &aierrors.UpstreamError{StatusCode: resp.StatusCode, Body: string(raw), Kind: kind}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, url, token string, body []byte) (*http.Response, error) {
	req, err := c.newRequest(ctx, url, token, body)
	if err != nil {
		return nil, err
	}
	return c.httpClient.Do(req)
}

// NewTunedHTTPClient builds the shared *http.Client every upstream call
// reuses. No Client.Timeout is set: a streaming response can legitimately
// run far longer than any single-request deadline, so callers bound
// individual requests via context instead of a blanket client-wide cutoff.
func NewTunedHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
