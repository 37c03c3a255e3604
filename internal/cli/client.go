package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/noah-isme/cliniclink-api/internal/dto"
	"github.com/noah-isme/cliniclink-api/internal/models"
	"github.com/noah-isme/cliniclink-api/internal/rubric"
	appErrors "github.com/noah-isme/cliniclink-api/pkg/errors"
)

const (
	fallbackSaveTemplate     = "Failed to save template"
	fallbackLoadTemplate     = "Failed to load template"
	fallbackSubmitEvaluation = "Failed to submit evaluation"
)

// Client talks to the ClinicLink API on behalf of rubricctl.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds an API client. baseURL includes the API prefix, e.g. http://localhost:8080/api/v1.
func NewClient(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), token: token, http: httpClient}
}

// GetTemplate fetches a template by id.
func (c *Client) GetTemplate(ctx context.Context, id string) (*models.EvaluationTemplate, error) {
	var tpl models.EvaluationTemplate
	if err := c.do(ctx, http.MethodGet, "/evaluation-templates/"+url.PathEscape(id), nil, &tpl, fallbackLoadTemplate); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// SaveTemplate creates the template, or updates it when editingID is set.
func (c *Client) SaveTemplate(ctx context.Context, editingID *string, payload rubric.TemplatePayload) (*models.EvaluationTemplate, error) {
	method, path := http.MethodPost, "/evaluation-templates"
	if editingID != nil {
		method, path = http.MethodPut, "/evaluation-templates/"+url.PathEscape(*editingID)
	}
	var tpl models.EvaluationTemplate
	if err := c.do(ctx, method, path, payload, &tpl, fallbackSaveTemplate); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// CreateEvaluation saves or submits an evaluation.
func (c *Client) CreateEvaluation(ctx context.Context, req dto.EvaluationRequest) (*models.Evaluation, error) {
	var evaluation models.Evaluation
	if err := c.do(ctx, http.MethodPost, "/evaluations", req, &evaluation, fallbackSubmitEvaluation); err != nil {
		return nil, err
	}
	return &evaluation, nil
}

type envelope struct {
	Data  json.RawMessage  `json:"data"`
	Error *appErrors.Error `json:"error"`
}

// do sends the request and decodes the response envelope. Failures surface the
// server's message when one is present, otherwise the fallback.
func (c *Client) do(ctx context.Context, method, path string, body, out interface{}, fallback string) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return appErrors.New("REQUEST_FAILED", 0, fallback)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return appErrors.New("REQUEST_FAILED", 0, fallback)
	}
	defer resp.Body.Close()

	var env envelope
	decodeErr := json.NewDecoder(resp.Body).Decode(&env)
	if resp.StatusCode >= http.StatusBadRequest {
		if decodeErr == nil && env.Error != nil && env.Error.Message != "" {
			return env.Error
		}
		return appErrors.New("REQUEST_FAILED", resp.StatusCode, fallback)
	}
	if decodeErr != nil {
		return appErrors.New("REQUEST_FAILED", resp.StatusCode, fallback)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return appErrors.New("REQUEST_FAILED", resp.StatusCode, fallback)
		}
	}
	return nil
}
