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

	"github.com/nauu/lightingbi/pkg/api"
	"github.com/nauu/lightingbi/pkg/formula"
	"github.com/nauu/lightingbi/pkg/httputil"
)

// APIError is a non-2xx response from the server
type APIError struct {
	Status  int
	Kind    string
	Message string
	Details map[string]string
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%s (%d): %s", e.Kind, e.Status, e.Message)
	if cycle, ok := e.Details["cycle"]; ok {
		msg += " [" + cycle + "]"
	}
	return msg
}

// Client calls the formula HTTP API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a client for the server at baseURL
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/") + api.APIPrefix,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Create defines or redefines a formula set and returns its id
func (c *Client) Create(ctx context.Context, req api.CreateFormulaRequest) (string, error) {
	var resp api.CreateFormulaResponse
	if err := c.do(ctx, http.MethodPost, "/formulas", req, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

// Run evaluates a stored set
func (c *Client) Run(ctx context.Context, id string, params map[string]string) (string, error) {
	var resp api.RunResponse
	if err := c.do(ctx, http.MethodPost, "/formulas/"+url.PathEscape(id)+"/run", api.RunRequest{Params: params}, &resp); err != nil {
		return "", err
	}
	return resp.Value, nil
}

// Calculate defines text under a fresh id and evaluates it
func (c *Client) Calculate(ctx context.Context, req api.CalculateRequest) (*api.RunResponse, error) {
	var resp api.RunResponse
	if err := c.do(ctx, http.MethodPost, "/formulas/calculate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Get returns a stored set
func (c *Client) Get(ctx context.Context, id string) (*formula.Set, error) {
	var set formula.Set
	if err := c.do(ctx, http.MethodGet, "/formulas/"+url.PathEscape(id), nil, &set); err != nil {
		return nil, err
	}
	return &set, nil
}

// Tree returns the positional tree of a stored set
func (c *Client) Tree(ctx context.Context, id string) (*formula.FormulaTree, error) {
	var tree formula.FormulaTree
	if err := c.do(ctx, http.MethodGet, "/formulas/"+url.PathEscape(id)+"/tree", nil, &tree); err != nil {
		return nil, err
	}
	return &tree, nil
}

// CheckCycle reports whether a stored set is cyclic
func (c *Client) CheckCycle(ctx context.Context, id string) (bool, error) {
	var resp api.CycleResponse
	if err := c.do(ctx, http.MethodGet, "/formulas/"+url.PathEscape(id)+"/cycle", nil, &resp); err != nil {
		return false, err
	}
	return resp.HasCycle, nil
}

// Delete removes a stored set
func (c *Client) Delete(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/formulas/"+url.PathEscape(id), nil, nil)
}

// List returns every stored id
func (c *Client) List(ctx context.Context) ([]string, error) {
	var resp api.ListResponse
	if err := c.do(ctx, http.MethodGet, "/formulas", nil, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, dest interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", req.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e httputil.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			return &APIError{Status: resp.StatusCode, Kind: "HTTPError", Message: resp.Status}
		}
		return &APIError{Status: resp.StatusCode, Kind: e.Kind, Message: e.Error, Details: e.Details}
	}

	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
