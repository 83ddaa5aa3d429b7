package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/trobanga/hermes/internal/lib"
	"github.com/trobanga/hermes/internal/models"
)

// ConverterClient invokes the remote $convert-data operation and classifies
// the response into a conversion outcome. A single message's failure never
// raises out of this client - it is always returned as a failed outcome so
// the run can continue.
type ConverterClient struct {
	baseURL    string
	service    models.ServiceConfig
	httpClient *HTTPClient
	tokens     TokenSource
	logger     *lib.Logger
}

// NewConverterClient creates a conversion client for the given FHIR service
func NewConverterClient(service models.ServiceConfig, httpClient *HTTPClient, tokens TokenSource, logger *lib.Logger) *ConverterClient {
	return &ConverterClient{
		baseURL:    service.FHIRBaseURL,
		service:    service,
		httpClient: httpClient,
		tokens:     tokens,
		logger:     logger,
	}
}

// Convert transforms one message into resource entries
func (c *ConverterClient) Convert(ctx context.Context, msg models.Message) models.ConversionOutcome {
	request, err := BuildConvertRequest(msg, c.service)
	if err != nil {
		// Template resolution is verified before the run starts; reaching
		// this path means the catalog changed underneath us.
		return c.failed(msg, models.ConversionErrorUnexpected, 0, err.Error())
	}

	body, err := request.Marshal()
	if err != nil {
		return c.failed(msg, models.ConversionErrorUnexpected, 0, err.Error())
	}

	resp, err := c.post(ctx, body, false)
	if err != nil {
		return c.failed(msg, models.ConversionErrorTransient, 0, err.Error())
	}

	// One forced token refresh on an auth rejection, then a single retry
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		_ = resp.Body.Close()
		c.logger.Debug("Auth rejected, refreshing token", "message_id", msg.MessageID, "status", resp.StatusCode)
		c.tokens.Invalidate()

		resp, err = c.post(ctx, body, true)
		if err != nil {
			return c.failed(msg, models.ConversionErrorTransient, 0, err.Error())
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			detail := readDetail(resp.Body)
			_ = resp.Body.Close()
			return c.failed(msg, models.ConversionErrorAuthFailure, resp.StatusCode, detail)
		}
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusOK:
		return c.converted(msg, resp.Body)
	case resp.StatusCode == http.StatusBadRequest:
		detail := readDetail(resp.Body)
		kind := models.ConversionErrorInvalidInput
		if mentionsTemplate(detail) {
			kind = models.ConversionErrorTemplateNotFound
		}
		return c.failed(msg, kind, resp.StatusCode, detail)
	default:
		return c.failed(msg, models.ConversionErrorUnexpected, resp.StatusCode, readDetail(resp.Body))
	}
}

func (c *ConverterClient) post(ctx context.Context, body []byte, refreshed bool) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, err
	}

	if refreshed {
		c.logger.Debug("Retrying conversion with refreshed token")
	}

	return c.httpClient.PostJSON(ctx, c.baseURL+"/$convert-data", body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

func (c *ConverterClient) converted(msg models.Message, body io.Reader) models.ConversionOutcome {
	var bundle lib.FHIRResource
	if err := json.NewDecoder(body).Decode(&bundle); err != nil {
		return c.failed(msg, models.ConversionErrorUnexpected, 0, fmt.Sprintf("failed to decode bundle: %v", err))
	}

	entries, err := lib.ExtractBundleEntries(bundle)
	if err != nil {
		return c.failed(msg, models.ConversionErrorUnexpected, 0, fmt.Sprintf("malformed bundle: %v", err))
	}

	lib.LogConversionOutcome(c.logger, msg.MessageID, msg.PatientID, true, len(entries), nil)
	return models.ConversionOutcome{
		MessageID: msg.MessageID,
		PatientID: msg.PatientID,
		Format:    msg.Format,
		Status:    models.ConversionConverted,
		Entries:   entries,
	}
}

func (c *ConverterClient) failed(msg models.Message, kind models.ConversionErrorKind, status int, detail string) models.ConversionOutcome {
	convErr := &models.ConversionError{Kind: kind, HTTPStatus: status, Detail: detail}
	lib.LogConversionOutcome(c.logger, msg.MessageID, msg.PatientID, false, 0, convErr)
	return models.ConversionOutcome{
		MessageID: msg.MessageID,
		PatientID: msg.PatientID,
		Format:    msg.Format,
		Status:    models.ConversionFailed,
		Error:     convErr,
	}
}

// readDetail reads a bounded error detail from a response body
func readDetail(body io.Reader) string {
	data, _ := io.ReadAll(io.LimitReader(body, 512))
	return string(data)
}

func mentionsTemplate(detail string) bool {
	lowered := make([]byte, len(detail))
	for i := 0; i < len(detail); i++ {
		c := detail[i]
		if c >= 'A' && c <= 'Z' {
			c += 32
		}
		lowered[i] = c
	}
	for i := 0; i+8 <= len(lowered); i++ {
		if string(lowered[i:i+8]) == "template" {
			return true
		}
	}
	return false
}
