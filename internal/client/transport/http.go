package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/finkeeper/internal/common"
	"github.com/dmitrijs2005/finkeeper/internal/syncapi"
)

// HTTP routes served by internal/server/httpapi.
const (
	PathSync   = "/api/v1/sync"
	PathStatus = "/api/v1/status"
	PathEvents = "/api/v1/events"
	PathHealth = "/health"
)

type HTTPClient struct {
	baseURL     string
	accessToken string
	httpClient  *http.Client
}

func NewHTTPClient(o Options) *HTTPClient {
	base := o.Address
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}
	return &HTTPClient{
		baseURL:     strings.TrimRight(base, "/"),
		accessToken: o.AccessToken,
		httpClient:  &http.Client{Timeout: o.Timeout},
	}
}

func (c *HTTPClient) Sync(ctx context.Context, req *syncapi.SyncRequest) (*syncapi.SyncResponse, error) {
	var resp syncapi.SyncResponse
	if err := c.do(ctx, http.MethodPost, PathSync, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Ping(ctx context.Context) error {
	var resp syncapi.PingResponse
	if err := c.do(ctx, http.MethodGet, PathHealth, nil, &resp); err != nil {
		return err
	}
	if resp.Status != syncapi.StatusOK {
		return common.ErrUnavailable
	}
	return nil
}

func (c *HTTPClient) Status(ctx context.Context) (*syncapi.StatusResponse, error) {
	var resp syncapi.StatusResponse
	if err := c.do(ctx, http.MethodGet, PathStatus, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *HTTPClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.accessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return decodeError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode response: %v", common.ErrServer, err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return common.ErrUnauthorized
	}
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusBadGateway || resp.StatusCode == http.StatusGatewayTimeout {
		return fmt.Errorf("%w: http %d", common.ErrUnavailable, resp.StatusCode)
	}

	var e syncapi.ErrorResponse
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(data, &e); err != nil || e.Error == "" {
		return &syncapi.RemoteError{Code: syncapi.ErrCodeInternal, Message: fmt.Sprintf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(data)))}
	}
	return &syncapi.RemoteError{Code: e.Error, Message: e.Message, Details: e.Details}
}
