package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"crm-sync-platform/internal/config"
	"crm-sync-platform/internal/logger"
	"crm-sync-platform/internal/models"
)

const (
	ownersPageSize      = 500
	fileImportPollLimit = 20
)

// hubSpotClient implements CRMClient against the HubSpot REST API
type hubSpotClient struct {
	baseURL      string
	token        string
	httpClient   *http.Client
	errorHandler *ErrorHandler
	retryPolicy  *RetryPolicy
	logger       *logger.Logger
	pollInterval time.Duration
}

// NewHubSpotClient creates a CRM client. Every call goes through the error
// handler, so transient failures are retried and repeated failures open a
// per-operation circuit breaker.
func NewHubSpotClient(cfg *config.Config, errorHandler *ErrorHandler, logger *logger.Logger) CRMClient {
	timeout := time.Duration(cfg.HubSpot.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	// hubspot.max_retries only shapes this client; the handler is shared
	var retryPolicy *RetryPolicy
	if cfg.HubSpot.MaxRetries > 0 {
		retryPolicy = DefaultRetryPolicy()
		retryPolicy.MaxAttempts = cfg.HubSpot.MaxRetries + 1
	}

	return &hubSpotClient{
		baseURL: strings.TrimRight(cfg.HubSpot.BaseURL, "/"),
		token:   cfg.HubSpot.AccessToken,
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: timeout,
		},
		errorHandler: errorHandler,
		retryPolicy:  retryPolicy,
		logger:       logger,
		pollInterval: time.Second,
	}
}

// Search runs one page of an object search
func (c *hubSpotClient) Search(ctx context.Context, objectType string, req *models.SearchRequest) (*models.SearchPage, error) {
	var resp struct {
		Total   int                 `json:"total"`
		Results []*models.CRMObject `json:"results"`
		Paging  *paging             `json:"paging"`
	}
	path := fmt.Sprintf("/crm/v3/objects/%s/search", objectType)
	if err := c.do(ctx, "search", http.MethodPost, path, nil, req, &resp); err != nil {
		return nil, err
	}

	page := &models.SearchPage{Results: resp.Results, Total: resp.Total}
	page.After = resp.Paging.after()
	return page, nil
}

// GetObject fetches one object by id, or by a unique property when idProperty is set
func (c *hubSpotClient) GetObject(ctx context.Context, objectType, id, idProperty string, properties []string) (*models.CRMObject, error) {
	query := url.Values{}
	if idProperty != "" {
		query.Set("idProperty", idProperty)
	}
	if len(properties) > 0 {
		query.Set("properties", strings.Join(properties, ","))
	}

	var object models.CRMObject
	path := fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, url.PathEscape(id))
	if err := c.do(ctx, "get_object", http.MethodGet, path, query, nil, &object); err != nil {
		return nil, err
	}
	return &object, nil
}

// GetAssociations lists the associations of an object to another object type
func (c *hubSpotClient) GetAssociations(ctx context.Context, fromType, fromID, toType string) ([]models.AssociationResult, error) {
	var associations []models.AssociationResult
	query := url.Values{}
	path := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/%s", fromType, url.PathEscape(fromID), toType)

	for {
		var resp struct {
			Results []struct {
				ToObjectID json.Number              `json:"toObjectId"`
				Types      []models.AssociationType `json:"associationTypes"`
			} `json:"results"`
			Paging *paging `json:"paging"`
		}
		if err := c.do(ctx, "get_associations", http.MethodGet, path, query, nil, &resp); err != nil {
			return nil, err
		}
		for _, result := range resp.Results {
			associations = append(associations, models.AssociationResult{
				ToObjectID: result.ToObjectID.String(),
				Types:      result.Types,
			})
		}

		after := resp.Paging.after()
		if after == "" {
			return associations, nil
		}
		query.Set("after", after)
	}
}

// CreateAssociation creates the default association between two objects
func (c *hubSpotClient) CreateAssociation(ctx context.Context, fromType, fromID, toType, toID string) error {
	path := fmt.Sprintf("/crm/v4/objects/%s/%s/associations/default/%s/%s",
		fromType, url.PathEscape(fromID), toType, url.PathEscape(toID))
	return c.do(ctx, "create_association", http.MethodPut, path, nil, nil, nil)
}

// UpsertObject creates or updates an object keyed by a unique property and returns its id
func (c *hubSpotClient) UpsertObject(ctx context.Context, objectType, idProperty string, properties map[string]interface{}) (string, error) {
	idValue := models.RawRecord(properties).String(idProperty)
	if idValue == "" {
		return "", fmt.Errorf("upsert %s: missing %s", objectType, idProperty)
	}

	body := map[string]interface{}{
		"inputs": []map[string]interface{}{{
			"idProperty": idProperty,
			"id":         idValue,
			"properties": properties,
		}},
	}
	var resp struct {
		Results []models.CRMObject `json:"results"`
	}
	path := fmt.Sprintf("/crm/v3/objects/%s/batch/upsert", objectType)
	if err := c.do(ctx, "upsert_object", http.MethodPost, path, nil, body, &resp); err != nil {
		return "", err
	}
	if len(resp.Results) == 0 {
		return "", fmt.Errorf("upsert %s %s: empty response", objectType, idValue)
	}
	return resp.Results[0].ID, nil
}

// UpdateObject patches an object's properties
func (c *hubSpotClient) UpdateObject(ctx context.Context, objectType, id string, properties map[string]interface{}) (string, error) {
	var object models.CRMObject
	path := fmt.Sprintf("/crm/v3/objects/%s/%s", objectType, url.PathEscape(id))
	body := map[string]interface{}{"properties": properties}
	if err := c.do(ctx, "update_object", http.MethodPatch, path, nil, body, &object); err != nil {
		return "", err
	}
	return object.ID, nil
}

// CreateObject creates an object and returns its id
func (c *hubSpotClient) CreateObject(ctx context.Context, objectType string, properties map[string]interface{}) (string, error) {
	var object models.CRMObject
	path := fmt.Sprintf("/crm/v3/objects/%s", objectType)
	body := map[string]interface{}{"properties": properties}
	if err := c.do(ctx, "create_object", http.MethodPost, path, nil, body, &object); err != nil {
		return "", err
	}
	return object.ID, nil
}

// GetProperties returns the property definitions of an object type
func (c *hubSpotClient) GetProperties(ctx context.Context, objectType string) ([]*models.PropertyDefinition, error) {
	var resp struct {
		Results []*models.PropertyDefinition `json:"results"`
	}
	path := fmt.Sprintf("/crm/v3/properties/%s", objectType)
	if err := c.do(ctx, "get_properties", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// GetOwners returns active and archived owners
func (c *hubSpotClient) GetOwners(ctx context.Context) ([]*models.Owner, error) {
	var owners []*models.Owner
	for _, archived := range []bool{false, true} {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(ownersPageSize))
		query.Set("archived", strconv.FormatBool(archived))

		for {
			var resp struct {
				Results []*models.Owner `json:"results"`
				Paging  *paging         `json:"paging"`
			}
			if err := c.do(ctx, "get_owners", http.MethodGet, "/crm/v3/owners", query, nil, &resp); err != nil {
				return nil, err
			}
			for _, owner := range resp.Results {
				owner.Archived = archived
				owners = append(owners, owner)
			}

			after := resp.Paging.after()
			if after == "" {
				break
			}
			query.Set("after", after)
		}
	}
	return owners, nil
}

// GetTeams returns the account's teams
func (c *hubSpotClient) GetTeams(ctx context.Context) ([]*models.Team, error) {
	var resp struct {
		Results []*models.Team `json:"results"`
	}
	if err := c.do(ctx, "get_teams", http.MethodGet, "/settings/v3/users/teams", nil, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Results, nil
}

// UploadFileByURL imports a remote file into the file manager and returns the new file id.
// The import runs asynchronously, so the task is polled until it completes.
func (c *hubSpotClient) UploadFileByURL(ctx context.Context, fileURL string) (string, error) {
	body := map[string]interface{}{
		"access":                      "PRIVATE",
		"url":                         fileURL,
		"duplicateValidationStrategy": "NONE",
		"overwrite":                   false,
	}
	var task struct {
		ID string `json:"id"`
	}
	if err := c.do(ctx, "import_file", http.MethodPost, "/files/v3/files/import-from-url/async", nil, body, &task); err != nil {
		return "", err
	}

	path := fmt.Sprintf("/files/v3/files/import-from-url/async/tasks/%s/status", url.PathEscape(task.ID))
	for attempt := 0; attempt < fileImportPollLimit; attempt++ {
		var status struct {
			Status string `json:"status"`
			Result struct {
				ID string `json:"id"`
			} `json:"result"`
		}
		if err := c.do(ctx, "import_file_status", http.MethodGet, path, nil, nil, &status); err != nil {
			return "", err
		}

		switch status.Status {
		case "COMPLETE":
			return status.Result.ID, nil
		case "CANCELED", "FAILED":
			return "", fmt.Errorf("file import %s from %s: %s", task.ID, fileURL, strings.ToLower(status.Status))
		}

		if err := sleepContext(ctx, c.pollInterval); err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("file import %s from %s did not complete", task.ID, fileURL)
}

// GetFileSignedURL resolves a file id to a temporary download URL
func (c *hubSpotClient) GetFileSignedURL(ctx context.Context, fileID string) (*models.Attachment, error) {
	var resp struct {
		URL       string    `json:"url"`
		Name      string    `json:"name"`
		Extension string    `json:"extension"`
		ExpiresAt time.Time `json:"expiresAt"`
	}
	path := fmt.Sprintf("/files/v3/files/%s/signed-url", url.PathEscape(fileID))
	if err := c.do(ctx, "file_signed_url", http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	return &models.Attachment{
		ID:        fileID,
		Name:      resp.Name,
		Extension: resp.Extension,
		URL:       resp.URL,
		ExpiresAt: resp.ExpiresAt,
	}, nil
}

// paging is the cursor block of list responses
type paging struct {
	Next *struct {
		After string `json:"after"`
	} `json:"next"`
}

func (p *paging) after() string {
	if p == nil || p.Next == nil {
		return ""
	}
	return p.Next.After
}

// do sends one JSON request with retries and decodes the response into out.
// Non-2xx responses become *HTTPStatusError.
func (c *hubSpotClient) do(ctx context.Context, operation, method, path string, query url.Values, body, out interface{}) error {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	var respBody []byte
	err := c.errorHandler.ExecuteWithPolicy(ctx, c.retryPolicy, func() error {
		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("failed to create HTTP request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		respBody, err = io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return &HTTPStatusError{
				StatusCode: resp.StatusCode,
				Method:     method,
				URL:        path,
				Body:       string(respBody),
				RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
			}
		}
		return nil
	}, "hubspot_"+operation)
	if err != nil {
		return err
	}

	c.logger.WithField("operation", operation).
		WithField("method", method).
		WithField("path", path).
		Debug("CRM request completed")

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", operation, err)
	}
	return nil
}

func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(value); err == nil && seconds > 0 {
		return time.Duration(seconds) * time.Second
	}
	if at, err := http.ParseTime(value); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
