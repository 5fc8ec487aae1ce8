// Package client talks to a running kura host over HTTP.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/52poke/kura/internal/cache"
	httpx "github.com/52poke/kura/internal/http"
	"github.com/52poke/kura/internal/purge"
)

type Client struct {
	baseURL string
	http    *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("kura responded %d: %s", e.Code, strings.TrimSpace(e.Body))
}

func (c *Client) do(ctx context.Context, method, path, actor string) ([]byte, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path = strings.TrimRight(u.Path, "/") + path

	req, err := http.NewRequestWithContext(ctx, method, u.String(), nil)
	if err != nil {
		return nil, err
	}
	if actor != "" {
		req.Header.Set(purge.ActorHeader, actor)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &StatusError{Code: resp.StatusCode, Body: string(body)}
	}
	return body, nil
}

func cachePath(name, verb string) string {
	p := "/caches/" + name
	if verb != "" {
		p += "/" + verb
	}
	return p
}

func (c *Client) Purge(ctx context.Context, name, actor string) (cache.Status, error) {
	return c.action(ctx, httpx.MethodPurge, cachePath(name, ""), actor)
}

func (c *Client) Enable(ctx context.Context, name, actor string) (cache.Status, error) {
	return c.action(ctx, http.MethodPost, cachePath(name, "enable"), actor)
}

func (c *Client) Disable(ctx context.Context, name, actor string) (cache.Status, error) {
	return c.action(ctx, http.MethodPost, cachePath(name, "disable"), actor)
}

func (c *Client) action(ctx context.Context, method, path, actor string) (cache.Status, error) {
	body, err := c.do(ctx, method, path, actor)
	if err != nil {
		return cache.Status{}, err
	}
	var resp struct {
		Cache cache.Status `json:"cache"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return cache.Status{}, fmt.Errorf("decode response: %w", err)
	}
	return resp.Cache, nil
}

func (c *Client) Caches(ctx context.Context) ([]cache.Status, error) {
	body, err := c.do(ctx, http.MethodGet, "/caches", "")
	if err != nil {
		return nil, err
	}
	var out []cache.Status
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
