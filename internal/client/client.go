// Package client talks to a mask server: it fetches and stores the mask
// over HTTP and follows mask revisions over a websocket.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"MaskBoard/internal/mask"
	"MaskBoard/internal/protocol"
)

// ErrNoMask is returned by FetchMask when the server has no usable mask:
// a non-2xx answer or a body that does not decode as an image.
var ErrNoMask = errors.New("no mask available")

// StatusError reports a non-2xx response.
type StatusError struct {
	Method string
	URL    string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.Code, http.StatusText(e.Code))
}

type Client struct {
	base    *url.URL
	http    *http.Client
	session string
	log     *log.Logger
}

type Option func(*Client)

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// WithSession tags every request with the editor session id.
func WithSession(id string) Option {
	return func(c *Client) { c.session = id }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for the server at baseURL, e.g. http://localhost:8080.
func New(baseURL string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("empty server url")
	}
	if !strings.Contains(baseURL, "://") {
		baseURL = "http://" + baseURL
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  log.New(os.Stderr, "[client] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the server address the client was built with.
func (c *Client) BaseURL() string { return c.base.String() }

func (c *Client) endpoint(path string) string {
	return c.base.ResolveReference(&url.URL{Path: path}).String()
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, contentType string) (*http.Response, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path), rd)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.session != "" {
		req.Header.Set(protocol.HeaderSession, c.session)
	}
	return c.http.Do(req)
}

// FetchMask downloads and decodes the current mask.
func (c *Client) FetchMask(ctx context.Context) (image.Image, error) {
	c.log.Println("fetching mask")
	img, err := c.getImage(ctx, "/mask")
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNoMask, err)
	}
	c.log.Println("mask loaded")
	return img, nil
}

// FetchImage downloads the source image the mask is laid over.
func (c *Client) FetchImage(ctx context.Context) (image.Image, error) {
	return c.getImage(ctx, "/image")
}

func (c *Client) getImage(ctx context.Context, path string) (image.Image, error) {
	resp, err := c.do(ctx, http.MethodGet, path, nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{Method: http.MethodGet, URL: c.endpoint(path), Code: resp.StatusCode}
	}
	return mask.Decode(resp.Body)
}

// PutMask uploads a PNG encoded mask once and returns the revision the
// server stored it as. Transport failures and non-2xx statuses are returned
// as errors; there is no retry. A 2xx answer without a revision body
// reports revision 0.
func (c *Client) PutMask(ctx context.Context, png []byte) (int64, error) {
	c.log.Printf("sending mask update (%d bytes)", len(png))
	resp, err := c.do(ctx, http.MethodPut, "/mask", png, "image/png")
	if err != nil {
		return 0, fmt.Errorf("put mask: %w", err)
	}
	defer resp.Body.Close()

	c.log.Printf("mask update response: %s", resp.Status)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return 0, &StatusError{Method: http.MethodPut, URL: c.endpoint("/mask"), Code: resp.StatusCode}
	}
	var out protocol.UpdateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		c.log.Printf("mask update response carries no revision: %v", err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return out.Revision, nil
}
