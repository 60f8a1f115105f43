package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/voxelforge/asset"
	"github.com/BaSui01/voxelforge/internal/metrics"
	"github.com/BaSui01/voxelforge/internal/retry"
	"github.com/BaSui01/voxelforge/internal/tlsutil"
	"github.com/BaSui01/voxelforge/types"
)

const systemPrompt = "You generate voxel coordinates for a 3D model part. " +
	"Output STRICT JSON: {\"voxels\": Array<{x:int,y:int,z:int,c:int}>}. " +
	"Prefer dense fill to form a solid, chunky object. Up to %d voxels if needed. " +
	"Palette indices 0-7. Coordinates must be within the bounding box."

// ChatConfig configures a ChatGenerator.
type ChatConfig struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	Timeout           time.Duration
	MaxRetries        int
	RequestsPerSecond float64
	Burst             int
	MaxVoxels         int
	CAFile            string
}

// ChatGenerator asks an OpenAI-compatible chat completions endpoint for part
// geometry. Requests are throttled by a token bucket and retried on 429 and
// 5xx responses.
type ChatGenerator struct {
	cfg      ChatConfig
	endpoint string
	client   *http.Client
	limiter  *rate.Limiter
	retryer  *retry.Retryer
	metrics  *metrics.Collector
	logger   *zap.Logger
}

// ChatOption configures a ChatGenerator.
type ChatOption func(*ChatGenerator)

// WithHTTPClient replaces the hardened default client.
func WithHTTPClient(c *http.Client) ChatOption {
	return func(g *ChatGenerator) {
		if c != nil {
			g.client = c
		}
	}
}

// WithMetrics records request counts and latency.
func WithMetrics(m *metrics.Collector) ChatOption {
	return func(g *ChatGenerator) { g.metrics = m }
}

// WithRetryPolicy overrides the backoff schedule. The retryable predicate
// is always the generator's own.
func WithRetryPolicy(p retry.Policy) ChatOption {
	return func(g *ChatGenerator) {
		p.Retryable = types.IsRetryable
		g.retryer = retry.New(p, g.logger)
	}
}

// NewChatGenerator creates a chat-backed content generator.
func NewChatGenerator(cfg ChatConfig, logger *zap.Logger, opts ...ChatOption) (*ChatGenerator, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("generator base URL is required")
	}
	if cfg.Model == "" {
		return nil, errors.New("generator model is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	if cfg.MaxVoxels <= 0 {
		cfg.MaxVoxels = asset.DefaultMaxVoxels
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "chat_generator"))

	client := tlsutil.SecureHTTPClient(cfg.Timeout, 0)
	if cfg.CAFile != "" {
		tlsCfg, err := tlsutil.WithRootCA(tlsutil.DefaultTLSConfig(), cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("generator TLS: %w", err)
		}
		transport := tlsutil.SecureTransport(0)
		transport.TLSClientConfig = tlsCfg
		client.Transport = transport
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	policy := retry.DefaultPolicy()
	policy.MaxRetries = cfg.MaxRetries
	policy.Retryable = types.IsRetryable

	g := &ChatGenerator{
		cfg:      cfg,
		endpoint: chatEndpoint(cfg.BaseURL),
		client:   client,
		limiter:  rate.NewLimiter(limit, burst),
		retryer:  retry.New(policy, logger),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

func chatEndpoint(base string) string {
	base = strings.TrimRight(base, "/")
	if strings.HasSuffix(base, "/v1") {
		return base + "/chat/completions"
	}
	return base + "/v1/chat/completions"
}

// Name implements asset.ContentGenerator.
func (g *ChatGenerator) Name() string { return "chat" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float64        `json:"temperature"`
	ResponseFormat responseFormat `json:"response_format"`
	Seed           *int64         `json:"seed,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// GeneratePart implements asset.ContentGenerator. It returns the message
// content verbatim; validation happens at the caller.
func (g *ChatGenerator) GeneratePart(ctx context.Context, req *asset.PartRequest) ([]byte, error) {
	seed := req.Seed
	body := chatRequest{
		Model: g.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: fmt.Sprintf(systemPrompt, g.cfg.MaxVoxels)},
			{Role: "user", Content: userPrompt(req)},
		},
		Temperature:    g.cfg.Temperature,
		ResponseFormat: responseFormat{Type: "json_object"},
		Seed:           &seed,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	start := time.Now()
	content, err := retry.Do(ctx, g.retryer, func(ctx context.Context) ([]byte, error) {
		if err := g.limiter.Wait(ctx); err != nil {
			return nil, types.NewError(types.ErrUpstreamTimeout, "rate limiter wait aborted").WithCause(err)
		}
		return g.complete(ctx, payload)
	})
	g.metrics.RecordGeneratorRequest(g.Name(), err, time.Since(start))
	if err != nil {
		g.logger.Debug("chat completion failed", zap.String("part", req.PartID), zap.Error(err))
		return nil, err
	}
	return content, nil
}

func (g *ChatGenerator) complete(ctx context.Context, payload []byte) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build chat request").WithCause(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if g.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+g.cfg.APIKey)
	}

	resp, err := g.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, types.NewError(types.ErrUpstreamTimeout, "chat request cancelled").WithCause(err)
		}
		return nil, types.NewError(types.ErrUpstreamError, err.Error()).
			WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return nil, mapStatus(resp.StatusCode, readErrMsg(resp.Body))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode chat response").
			WithHTTPStatus(http.StatusBadGateway).WithCause(err)
	}
	if len(out.Choices) == 0 || out.Choices[0].Message.Content == "" {
		return nil, types.NewError(types.ErrUpstreamError, "chat response has no content").
			WithHTTPStatus(http.StatusBadGateway)
	}
	return []byte(out.Choices[0].Message.Content), nil
}

func userPrompt(req *asset.PartRequest) string {
	return fmt.Sprintf(
		"Subject: %s. Part: %s (%s). Resolution: %d. BBox min:%v max:%v. Style: %s. Pose: %s. "+
			"Return dense geometry voxels filling the interior of the shape.",
		req.Subject, req.PartID, req.Kind, req.Resolution,
		req.BBox.Min, req.BBox.Max, req.Style, req.Pose,
	)
}

func mapStatus(status int, msg string) *types.Error {
	switch {
	case status == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true)
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return types.NewError(types.ErrUpstreamTimeout, msg).WithHTTPStatus(status).WithRetryable(true)
	case status >= 500:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status)
	}
}

func readErrMsg(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 64<<10))
	var errResp errorResponse
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return errResp.Error.Message
	}
	return strings.TrimSpace(string(data))
}
