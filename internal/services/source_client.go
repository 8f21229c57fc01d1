package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

// sourceClient implements SourceClient against the source system's change feed
type sourceClient struct {
	baseURL      string
	apiKey       string
	httpClient   *http.Client
	errorHandler *ErrorHandler
	logger       *logger.Logger
}

// NewSourceClient creates a client for GET {base}/{entity_type}?updated_from=&updated_to=
func NewSourceClient(cfg *config.Config, errorHandler *ErrorHandler, logger *logger.Logger) SourceClient {
	timeout := time.Duration(cfg.Source.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &sourceClient{
		baseURL:      strings.TrimRight(cfg.Source.BaseURL, "/"),
		apiKey:       cfg.Source.APIKey,
		httpClient:   &http.Client{Timeout: timeout},
		errorHandler: errorHandler,
		logger:       logger,
	}
}

// FetchChanged returns the records of an entity type updated in [start, end).
// The feed answers either a bare JSON array or an object with a "data" array.
func (c *sourceClient) FetchChanged(ctx context.Context, entityType models.EntityType, start, end time.Time) ([]models.RawRecord, error) {
	query := url.Values{}
	query.Set("updated_from", start.UTC().Format(time.RFC3339))
	query.Set("updated_to", end.UTC().Format(time.RFC3339))
	fullURL := fmt.Sprintf("%s/%s?%s", c.baseURL, url.PathEscape(string(entityType)), query.Encode())

	var body []byte
	err := c.errorHandler.ExecuteWithFullProtection(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
		if err != nil {
			return fmt.Errorf("failed to create HTTP request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if c.apiKey != "" {
			req.Header.Set("X-API-Key", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			return &HTTPStatusError{
				StatusCode: resp.StatusCode,
				Method:     http.MethodGet,
				URL:        fullURL,
				Body:       string(body),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		return nil
	}, "source_fetch")
	if err != nil {
		return nil, err
	}

	records, err := decodeRecords(body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s records: %w", entityType, err)
	}

	c.logger.WithEntityType(string(entityType)).
		WithField("start", start).
		WithField("end", end).
		WithField("records", len(records)).
		Debug("Fetched source records")

	return records, nil
}

func decodeRecords(body []byte) ([]models.RawRecord, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var records []models.RawRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, err
		}
		return records, nil
	}

	var envelope struct {
		Data []models.RawRecord `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}
