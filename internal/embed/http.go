package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// HTTPProvider calls an external embedding service over HTTPS. The payload
// shape here is the adapter contract with the proxy; the core never sees it.
type HTTPProvider struct {
	client    *http.Client
	transport *http.Transport
	config    HTTPConfig
	logger    *slog.Logger
}

// Verify interface implementation at compile time
var _ Provider = (*HTTPProvider)(nil)

// HTTPConfig configures the HTTP embedding adapter.
type HTTPConfig struct {
	// DefaultURL is used when a collection carries no proxy URL.
	DefaultURL string
	// Timeout bounds a single request, applied via per-request context.
	Timeout time.Duration
	// ConnectTimeout bounds dialing.
	ConnectTimeout time.Duration
	// PoolSize sizes the idle connection pool.
	PoolSize int
}

// embedRequest is the wire request to the embedding proxy.
type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// embedResponse is the wire response from the embedding proxy.
type embedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// NewHTTPProvider creates an HTTP embedding provider.
func NewHTTPProvider(cfg HTTPConfig, logger *slog.Logger) *HTTPProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	transport := &http.Transport{
		DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
		MaxIdleConns:        cfg.PoolSize,
		MaxIdleConnsPerHost: cfg.PoolSize,
		MaxConnsPerHost:     cfg.PoolSize * 2,
		IdleConnTimeout:     30 * time.Second,
	}

	// No http.Client.Timeout: it would override the per-request context
	// deadline set in Embed.
	return &HTTPProvider{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
		logger:    logger,
	}
}

// Embed posts a batch of texts and returns one vector per text.
func (p *HTTPProvider) Embed(ctx context.Context, texts []string, model, proxyURL string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	url := proxyURL
	if url == "" {
		url = p.config.DefaultURL
	}
	if url == "" {
		return nil, NewProviderError(KindOther, "no embedding endpoint configured", nil)
	}

	body, err := json.Marshal(embedRequest{Model: model, Input: texts})
	if err != nil {
		return nil, NewProviderError(KindOther, "encode request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.config.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, NewProviderError(KindOther, "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, NewProviderError(KindTransport, "request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, NewProviderError(KindRateLimited,
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	case resp.StatusCode >= 500:
		return nil, NewProviderError(KindTransport,
			fmt.Sprintf("provider returned status %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, NewProviderError(KindInvalidResponse,
			fmt.Sprintf("provider returned status %d: %s", resp.StatusCode, payload), nil)
	}

	var decoded embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, NewProviderError(KindInvalidResponse, "undecodable response body", err)
	}
	if decoded.Error != "" {
		return nil, NewProviderError(KindInvalidResponse, decoded.Error, nil)
	}
	if len(decoded.Embeddings) != len(texts) {
		return nil, NewProviderError(KindInvalidResponse,
			fmt.Sprintf("got %d embeddings for %d texts", len(decoded.Embeddings), len(texts)), nil)
	}

	p.logger.Debug("embed_batch_ok",
		slog.Int("texts", len(texts)),
		slog.String("model", model),
		slog.Duration("elapsed", time.Since(start)))

	return decoded.Embeddings, nil
}

// Close releases idle connections.
func (p *HTTPProvider) Close() {
	p.transport.CloseIdleConnections()
}
