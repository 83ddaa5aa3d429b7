package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// StoreClient writes resources to the remote FHIR store, one resource per call
type StoreClient struct {
	baseURL    string
	httpClient *HTTPClient
	tokens     TokenSource
	logger     *lib.Logger
}

// StoreResult is the outcome of a successful store write
type StoreResult struct {
	RemoteID      string
	AlreadyExists bool // Conditional create matched an existing resource
}

// StoreError represents a rejection from the FHIR store
type StoreError struct {
	StatusCode int
	Body       string
}

// Error implements the error interface
func (e *StoreError) Error() string {
	return fmt.Sprintf("store rejected write: HTTP %d: %s", e.StatusCode, e.Body)
}

// IsTransient reports whether the rejection should be retried
func (e *StoreError) IsTransient() bool {
	return lib.IsTransientHTTPStatus(e.StatusCode)
}

// NewStoreClient creates a store client for the given FHIR base URL
func NewStoreClient(baseURL string, httpClient *HTTPClient, tokens TokenSource, logger *lib.Logger) *StoreClient {
	return &StoreClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// Create writes one resource to the store via POST {base}/{resourceType}.
// When the node carries business identifiers the write is conditional
// (If-None-Exist on the first sorted identifier) so re-running a partially
// completed load does not duplicate resources.
func (c *StoreClient) Create(ctx context.Context, node *models.ResourceNode) (StoreResult, error) {
	body, err := json.Marshal(node.Body)
	if err != nil {
		return StoreResult{}, fmt.Errorf("failed to marshal resource: %w", err)
	}

	headers := map[string]string{
		"Content-Type": "application/fhir+json",
	}
	if len(node.Identifiers) > 0 {
		id := node.Identifiers[0]
		headers["If-None-Exist"] = fmt.Sprintf("identifier=%s|%s", id.System, id.Value)
	}

	resp, err := c.post(ctx, node.ResourceType, body, headers, false)
	if err != nil {
		return StoreResult{}, err
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		c.logger.Debug("Auth rejected on store write, refreshing token", "key", node.Key, "status", resp.StatusCode)
		c.tokens.Invalidate()

		resp, err = c.post(ctx, node.ResourceType, body, headers, true)
		if err != nil {
			return StoreResult{}, err
		}
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		// 200 on a conditional create means the resource already exists
		result := StoreResult{AlreadyExists: resp.StatusCode == http.StatusOK}

		var created lib.FHIRResource
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			result.RemoteID, _ = created.GetID()
		}

		lib.LogNodeUploaded(c.logger, node.Key, node.ResourceType, result.RemoteID)
		return result, nil
	default:
		return StoreResult{}, &StoreError{
			StatusCode: resp.StatusCode,
			Body:       readDetail(resp.Body),
		}
	}
}

func (c *StoreClient) post(ctx context.Context, resourceType string, body []byte, headers map[string]string, refreshed bool) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if refreshed {
		c.logger.Debug("Retrying store write with refreshed token")
	}

	merged := map[string]string{"Authorization": "Bearer " + token}
	for k, v := range headers {
		merged[k] = v
	}

	return c.httpClient.PostJSON(ctx, c.baseURL+"/"+resourceType, body, merged)
}
