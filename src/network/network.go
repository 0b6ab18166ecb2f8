package network

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
	"strings"
	"time"

	"queue-sync/src/helpers"
	"queue-sync/src/logger"
	"queue-sync/src/models"

	"github.com/google/uuid"
)

// RequestIDHeader carries a per-request id the backend echoes in its logs.
const RequestIDHeader = "X-Request-ID"

type AsyncNetworkManager struct {
	Config     *models.MConfig
	Client     *http.Client
	Logger     *logger.Logger
	BaseURL    string
	RetryDelay time.Duration
}

// -----------------------------------------------------------------------------

func NewAsyncNetworkManager(cfg *models.MConfig, log *logger.Logger) *AsyncNetworkManager {
	if log == nil {
		log = logger.NewNopLogger()
	}
	nm := &AsyncNetworkManager{
		Config:     cfg,
		Logger:     log,
		BaseURL:    strings.TrimRight(cfg.Backend.APIBaseURL, "/"),
		RetryDelay: time.Second,
	}
	nm.Client = nm.createClient()
	return nm
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) createClient() *http.Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(nm.Config.Backend.Timeout) * time.Second,
	}
}

// -----------------------------------------------------------------------------

// PostJSON sends body as JSON and decodes a 2xx response into out. Only
// idempotent calls are retried, and only on transport errors or 5xx.
func (nm *AsyncNetworkManager) PostJSON(ctx context.Context, path string, body interface{}, out interface{}, idempotent bool) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request body: %w", err)
	}

	retries := 0
	if idempotent {
		retries = nm.Config.Backend.MaxRetries
	}

	return helpers.RetryWithBackoff(ctx, retries, nm.RetryDelay, isRetryable, func() error {
		return nm.do(ctx, http.MethodPost, nm.BaseURL+path, payload, out)
	})
}

// -----------------------------------------------------------------------------

// GetJSON performs a GET with query parameters. GETs are always retried.
func (nm *AsyncNetworkManager) GetJSON(ctx context.Context, path string, params map[string]string, out interface{}) error {
	reqURL, err := url.Parse(nm.BaseURL + path)
	if err != nil {
		return err
	}

	q := reqURL.Query()
	for k, v := range params {
		q.Add(k, v)
	}
	reqURL.RawQuery = q.Encode()
	finalURL := reqURL.String()

	return helpers.RetryWithBackoff(ctx, nm.Config.Backend.MaxRetries, nm.RetryDelay, isRetryable, func() error {
		return nm.do(ctx, http.MethodGet, finalURL, nil, out)
	})
}

// -----------------------------------------------------------------------------

func (nm *AsyncNetworkManager) do(ctx context.Context, method, target string, payload []byte, out interface{}) error {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return err
	}

	requestID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set(RequestIDHeader, requestID)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := nm.Config.Backend.Token; token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := nm.Client.Do(req)
	if err != nil {
		nm.Logger.Info("Request %s %s failed [%s]: %v", method, target, requestID, err)
		return &helpers.ConnectivityError{QueueSyncError: helpers.QueueSyncError{
			Message: "backend unreachable",
			Cause:   err,
		}}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &helpers.ConnectivityError{QueueSyncError: helpers.QueueSyncError{
			Message: "failed to read response",
			Cause:   err,
		}}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		nm.Logger.Info("Request %s %s returned %d [%s]", method, target, resp.StatusCode, requestID)
		return helpers.ClassifyStatus(resp.StatusCode, data)
	}

	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return helpers.NewRequestError(resp.StatusCode, "", fmt.Errorf("failed to decode response: %w", err))
	}
	return nil
}

// -----------------------------------------------------------------------------

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		var netErr net.Error
		// client timeouts are worth another try; caller cancellation is not
		return errors.As(err, &netErr) && netErr.Timeout()
	}

	var ce *helpers.ConnectivityError
	if errors.As(err, &ce) {
		return true
	}

	var re *helpers.RequestError
	if errors.As(err, &re) {
		return re.Status >= 500 || re.Status == http.StatusTooManyRequests
	}
	return false
}
