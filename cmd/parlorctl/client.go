package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/parlor/parlor/internal/handler"
	"github.com/parlor/parlor/internal/service"
)

const requestTimeout = 2 * time.Minute

// apiClient is a thin JSON client for the Parlor API.
type apiClient struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func newAPIClient(opts *globalOptions) (*apiClient, error) {
	if opts.apiKey == "" {
		return nil, errors.New("an API key is required (--api-key or PARLOR_API_KEY)")
	}
	return &apiClient{
		baseURL: strings.TrimRight(opts.apiURL, "/"),
		apiKey:  opts.apiKey,
		http:    &http.Client{Timeout: requestTimeout},
	}, nil
}

// apiError is a non-2xx answer from the server.
type apiError struct {
	Status  int
	Message string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode/100 != 2 {
		return &apiError{Status: resp.StatusCode, Message: errorMessage(body)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// errorMessage understands both {"message"} and {"error":{"message"}}.
func errorMessage(body []byte) string {
	var payload struct {
		Message string `json:"message"`
		Error   struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if payload.Message != "" {
			return payload.Message
		}
		if payload.Error.Message != "" {
			return payload.Error.Message
		}
	}
	return strings.TrimSpace(string(body))
}

func (c *apiClient) Profile(ctx context.Context) (*service.Profile, error) {
	var p service.Profile
	if err := c.do(ctx, http.MethodGet, "/api/user/profile", &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (c *apiClient) RefreshMCP(ctx context.Context) (string, error) {
	var resp struct {
		Message string `json:"message"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/mcp/refresh", &resp); err != nil {
		return "", err
	}
	return resp.Message, nil
}

func (c *apiClient) Tools(ctx context.Context) (*handler.ToolListResponse, error) {
	var list handler.ToolListResponse
	if err := c.do(ctx, http.MethodGet, "/api/mcp/tools", &list); err != nil {
		return nil, err
	}
	return &list, nil
}
