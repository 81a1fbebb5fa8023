package bundleaccess

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

	"parcel/internal/api"
	"parcel/internal/delivery"
	"parcel/internal/services"
)

// ErrAPIUnavailable reports that no daemon answered on the admin API.
var ErrAPIUnavailable = errors.New("admin API unavailable")

const (
	pingTimeout     = 2 * time.Second
	passwordHeader  = "X-Bundle-Password"
	maxErrorPayload = 64 << 10
)

// APIError is a non-2xx answer from the daemon.
type APIError struct {
	Status  int
	Message string
	Kind    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api returned status %d", e.Status)
	}
	return fmt.Sprintf("api returned status %d: %s", e.Status, e.Message)
}

// Unwrap exposes the service marker matching Kind so callers can keep using
// errors.Is against services sentinels.
func (e *APIError) Unwrap() error {
	switch e.Kind {
	case "validation":
		return services.ErrValidation
	case "planning":
		return services.ErrPlanning
	case "not_found":
		return services.ErrNotFound
	case "conflict":
		return services.ErrConflict
	case "unavailable":
		return services.ErrUnavailable
	case "transient":
		return services.ErrTransient
	case "permanent":
		return services.ErrPermanent
	}
	if e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden {
		return services.ErrAccess
	}
	return nil
}

var _ Access = (*Client)(nil)

// Client talks to the daemon's admin and delivery routes.
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
}

// NewClient builds a client for an api_bind address. Wildcard hosts are
// dialed on loopback. An empty bind returns nil, nil.
func NewClient(bind, token string) (*Client, error) {
	bind = strings.TrimSpace(bind)
	if bind == "" {
		return nil, nil
	}
	if !strings.Contains(bind, "://") {
		bind = "http://" + bind
	}
	base, err := url.Parse(bind)
	if err != nil {
		return nil, err
	}
	host, port, err := net.SplitHostPort(base.Host)
	if err == nil && (host == "" || host == "0.0.0.0" || host == "::") {
		base.Host = net.JoinHostPort("127.0.0.1", port)
	}
	base.Path = ""
	base.RawQuery = ""
	base.Fragment = ""
	return &Client{
		base:  base,
		token: strings.TrimSpace(token),
		http:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Ping checks that a daemon answers on /healthz.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil); err != nil {
		return fmt.Errorf("%w: %w", ErrAPIUnavailable, err)
	}
	return nil
}

// Status fetches the daemon status.
func (c *Client) Status(ctx context.Context) (api.DaemonStatus, error) {
	var out api.DaemonStatus
	err := c.do(ctx, http.MethodGet, "/api/status", nil, nil, &out)
	return out, err
}

func (c *Client) Stats(ctx context.Context) (map[string]int, error) {
	var out api.StatsResponse
	if err := c.do(ctx, http.MethodGet, "/api/stats", nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Counts, nil
}

func (c *Client) List(ctx context.Context, statuses []string) ([]api.Bundle, error) {
	path := "/api/bundles"
	if len(statuses) > 0 {
		path += "?" + url.Values{"status": {strings.Join(statuses, ",")}}.Encode()
	}
	var out api.BundleListResponse
	if err := c.do(ctx, http.MethodGet, path, nil, nil, &out); err != nil {
		return nil, err
	}
	return out.Bundles, nil
}

func (c *Client) Describe(ctx context.Context, id string) (*api.BundleDetail, error) {
	var out api.BundleDetail
	err := c.do(ctx, http.MethodGet, "/api/bundles/"+url.PathEscape(strings.TrimSpace(id)), nil, nil, &out)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Create(ctx context.Context, req api.CreateBundleRequest) (api.Bundle, error) {
	var out api.BundleResponse
	if err := c.do(ctx, http.MethodPost, "/api/bundles", nil, req, &out); err != nil {
		return api.Bundle{}, err
	}
	return out.Bundle, nil
}

func (c *Client) Revoke(ctx context.Context, id, reason string) (api.RevokeResponse, error) {
	var out api.RevokeResponse
	path := "/api/bundles/" + url.PathEscape(strings.TrimSpace(id)) + "/revoke"
	err := c.do(ctx, http.MethodPost, path, nil, api.RevokeBundleRequest{Reason: reason}, &out)
	return out, err
}

func (c *Client) Poll(ctx context.Context, id, password string) (delivery.Snapshot, error) {
	var out delivery.Snapshot
	header := http.Header{}
	if password != "" {
		header.Set(passwordHeader, password)
	}
	err := c.do(ctx, http.MethodGet, "/d/"+url.PathEscape(strings.TrimSpace(id)), header, nil, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, out any) error {
	if c == nil {
		return ErrAPIUnavailable
	}
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	endpoint, err := c.base.Parse(path)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return err
	}
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
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
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode}
		var payload api.ErrorResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorPayload)).Decode(&payload); err == nil {
			apiErr.Message = payload.Error
			apiErr.Kind = payload.Kind
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
