package kserve

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const (
	// DefaultInputName is the model input the tensor is bound to.
	DefaultInputName = "images"

	maxErrorBody    = 4 << 10
	maxResponseBody = 16 << 20
)

// Config locates a model on a v2 protocol server.
type Config struct {
	Host      string
	Port      int
	Model     string
	InputName string
	// HTTPClient defaults to a client without a timeout; callers bound each
	// call through its context.
	HTTPClient *http.Client
}

// Client performs inference calls against one model.
type Client struct {
	baseURL   string
	model     string
	inputName string
	http      *http.Client
	logger    *zap.Logger
}

// NewClient returns a client for the model described by cfg.
func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.Host) == "" {
		return nil, errors.New("inference host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("inference port %d out of range", cfg.Port)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.InputName == "" {
		cfg.InputName = DefaultInputName
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:   "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		model:     cfg.Model,
		inputName: cfg.InputName,
		http:      httpClient,
		logger:    logger.Named("kserve_client"),
	}, nil
}

// InferURL is the endpoint inference requests are posted to.
func (c *Client) InferURL() string {
	return c.baseURL + "/v2/models/" + url.PathEscape(c.model) + "/infer"
}

// Infer sends one FP32 tensor and returns the decoded response. It makes
// exactly one round trip and never retries.
func (c *Client) Infer(ctx context.Context, in Input) (*InferResponse, error) {
	body, err := json.Marshal(InferRequest{Inputs: []InputTensor{{
		Name:     c.inputName,
		Shape:    in.Shape,
		Datatype: DatatypeFP32,
		Data:     in.Data,
	}}})
	if err != nil {
		return nil, fmt.Errorf("encode inference request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.InferURL(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Error("inference request failed", zap.Error(err), zap.String("url", req.URL.String()))
		return nil, &ServiceError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		c.logger.Error("inference service rejected request",
			zap.Int("status", resp.StatusCode), zap.ByteString("body", text))
		return nil, &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}

	var out InferResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&out); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, &ServiceError{Err: ctxErr}
		}
		return nil, &InvalidResponseError{Reason: "malformed JSON body", Err: err}
	}
	return &out, nil
}

// Ready checks server and model readiness through the v2 health endpoints.
func (c *Client) Ready(ctx context.Context) error {
	paths := []string{
		"/v2/health/ready",
		"/v2/models/" + url.PathEscape(c.model) + "/ready",
	}
	for _, path := range paths {
		if err := c.probe(ctx, c.baseURL+path); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) probe(ctx context.Context, target string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &ServiceError{Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServiceError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(text))}
	}
	return nil
}
