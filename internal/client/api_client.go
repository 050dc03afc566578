package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"Mansoor88-6/aw-sync-agent/internal/models"
)

const maxErrorBody = 512

// APIClient handles communication with the remote analytics server
type APIClient struct {
	baseURL    string
	apiKey     string
	batchSize  int
	httpClient *http.Client
	logger     *zap.Logger
}

// NewAPIClient creates a new API client
func NewAPIClient(baseURL, apiKey string, batchSize int, timeout time.Duration, logger *zap.Logger) *APIClient {
	if batchSize < 1 {
		batchSize = 1
	}
	return &APIClient{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		batchSize: batchSize,
		httpClient: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		logger: logger.With(zap.String("api_key_hash", KeyHash(apiKey))),
	}
}

// KeyHash identifies an API key in logs without revealing it
func KeyHash(apiKey string) string {
	sum := sha256.Sum256([]byte(apiKey))
	return hex.EncodeToString(sum[:])[:8]
}

// UploadResult summarises an upload. AcceptedCount holds the number of records the
// server acknowledged; Remaining holds the records never acknowledged.
type UploadResult struct {
	Success       bool
	AcceptedCount int
	Batches       int
	Remaining     []models.NormalizedRecord
	Err           error
}

// Upload sends records in batches and stops at the first failed batch.
// Failed batches are not retried within the call.
func (c *APIClient) Upload(ctx context.Context, email string, records []models.NormalizedRecord) UploadResult {
	result := UploadResult{Success: true}
	if len(records) == 0 {
		return result
	}

	for start := 0; start < len(records); start += c.batchSize {
		end := start + c.batchSize
		if end > len(records) {
			end = len(records)
		}

		if err := c.SendBatch(ctx, email, records[start:end]); err != nil {
			result.Success = false
			result.Err = err
			result.Remaining = records[start:]
			return result
		}
		result.AcceptedCount += end - start
		result.Batches++
	}

	return result
}

// SendBatch posts a single batch of records to the sync endpoint
func (c *APIClient) SendBatch(ctx context.Context, email string, records []models.NormalizedRecord) error {
	if len(records) == 0 {
		return fmt.Errorf("cannot send empty batch")
	}

	jsonData, err := json.Marshal(models.SyncRequest{UserEmail: email, Events: records})
	if err != nil {
		return fmt.Errorf("failed to marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/sync", bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	bodySum := sha256.Sum256(jsonData)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Idempotency-Key", IdempotencyKey(records))
	req.Header.Set("X-Content-SHA256", hex.EncodeToString(bodySum[:]))

	startTime := time.Now()
	resp, err := c.httpClient.Do(req)
	duration := time.Since(startTime)

	if err != nil {
		c.logger.Error("Failed to send batch",
			zap.Error(err),
			zap.Int("event_count", len(records)),
			zap.Duration("duration", duration),
		)
		return &ServerError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		c.logger.Info("Batch sent successfully",
			zap.Int("event_count", len(records)),
			zap.Int("status_code", resp.StatusCode),
			zap.Duration("duration", duration),
		)
		return nil
	}

	errMsg := fmt.Sprintf("server returned status %d: %s", resp.StatusCode, string(body))

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		c.logger.Error("Authentication failed",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
		)
		return &AuthError{Message: errMsg, StatusCode: resp.StatusCode}
	default:
		c.logger.Error("Server error",
			zap.Int("status_code", resp.StatusCode),
			zap.String("response", string(body)),
			zap.Int("event_count", len(records)),
		)
		return &ServerError{Message: errMsg, StatusCode: resp.StatusCode}
	}
}

// IdempotencyKey is a digest of the record ids in a batch
func IdempotencyKey(records []models.NormalizedRecord) string {
	h := sha256.New()
	for _, r := range records {
		h.Write([]byte(r.RecordID))
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FetchCategories retrieves the team's category rules
func (c *APIClient) FetchCategories(ctx context.Context, email string) (*models.CategoryResponse, error) {
	target := c.baseURL + "/api/categories?" + url.Values{"email": {email}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-API-Key", c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &ServerError{Message: "request failed", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &AuthError{
			Message:    fmt.Sprintf("category fetch rejected with status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	case resp.StatusCode != http.StatusOK:
		return nil, &ServerError{
			Message:    fmt.Sprintf("category fetch returned status %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	var result models.CategoryResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}

	c.logger.Debug("Fetched category rules",
		zap.String("team_id", result.TeamID),
		zap.Int("categories", len(result.Categories)))
	return &result, nil
}

// HealthCheck checks if the server is reachable
func (c *APIClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
