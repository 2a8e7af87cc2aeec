// Package wiki talks to the team wiki over its HTML forms: it logs in, edits
// pages and uploads files the way a browser would.
package wiki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"golang.org/x/net/publicsuffix"

	"github.com/schaermu/wikisync/internal/config"
)

var (
	// ErrLoginFailed means the login response did not confirm the login
	ErrLoginFailed = errors.New("login failed")

	// ErrFormNotFound means a page did not contain the expected form
	ErrFormNotFound = errors.New("form not found")

	// ErrNoFileLink means an upload response did not link to the stored file
	ErrNoFileLink = errors.New("file link not found in upload response")
)

// maxErrorBody limits how much of an error response ends up in an error
const maxErrorBody = 512

// Client is a browser-like session against the wiki
type Client struct {
	http       *http.Client
	jar        http.CookieJar
	cfg        config.WikiConfig
	cookieFile string
	fs         afero.Fs
	logger     *slog.Logger
}

// NewClient creates a client with an empty session
func NewClient(cfg *config.Config, fsys afero.Fs, logger *slog.Logger) (*Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	return &Client{
		http: &http.Client{
			Timeout: cfg.Wiki.Timeout,
			Jar:     jar,
		},
		jar:        jar,
		cfg:        cfg.Wiki,
		cookieFile: cfg.State.CookieFile,
		fs:         fsys,
		logger:     logger,
	}, nil
}

// page is a fetched HTML document together with its final URL
type page struct {
	URL  *url.URL
	Body []byte
}

func (c *Client) get(ctx context.Context, rawURL string) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	return c.do(req)
}

func (c *Client) postForm(ctx context.Context, f *form) (*page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.Action, strings.NewReader(f.Fields.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func (c *Client) do(req *http.Request) (*page, error) {
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	c.logger.Debug("wiki request", "method", req.Method, "url", req.URL.String())
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response from %s: %w", req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		return nil, fmt.Errorf("unexpected status %s from %s: %s", resp.Status, req.URL, bytes.TrimSpace(body))
	}

	return &page{URL: resp.Request.URL, Body: body}, nil
}

// savedCookie is the on-disk form of a session cookie
type savedCookie struct {
	URL   string `json:"url"`
	Name  string `json:"name"`
	Value string `json:"value"`
}

// sessionURLs are the URLs whose cookies make up the session
func (c *Client) sessionURLs() []*url.URL {
	var urls []*url.URL
	for _, raw := range []string{c.cfg.BaseURL, c.cfg.LoginURL} {
		if u, err := url.Parse(raw); err == nil && u.Host != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

// LoadCookies restores a session saved by SaveCookies. A missing file is
// not an error; an unreadable one is logged and ignored.
func (c *Client) LoadCookies() {
	data, err := afero.ReadFile(c.fs, c.cookieFile)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			c.logger.Warn("failed to read cookie file", "path", c.cookieFile, "error", err)
		}
		return
	}

	var saved []savedCookie
	if err := json.Unmarshal(data, &saved); err != nil {
		c.logger.Warn("ignoring unreadable cookie file", "path", c.cookieFile, "error", err)
		return
	}

	for _, sc := range saved {
		u, err := url.Parse(sc.URL)
		if err != nil {
			continue
		}
		c.jar.SetCookies(u, []*http.Cookie{{Name: sc.Name, Value: sc.Value}})
	}
	c.logger.Debug("loaded session cookies", "path", c.cookieFile, "count", len(saved))
}

// SaveCookies writes the current session cookies to the cookie file
func (c *Client) SaveCookies() error {
	saved := []savedCookie{}
	for _, u := range c.sessionURLs() {
		for _, ck := range c.jar.Cookies(u) {
			saved = append(saved, savedCookie{URL: u.String(), Name: ck.Name, Value: ck.Value})
		}
	}

	data, err := json.MarshalIndent(saved, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode cookies: %w", err)
	}
	if err := c.fs.MkdirAll(filepath.Dir(c.cookieFile), 0700); err != nil {
		return fmt.Errorf("failed to create cookie directory: %w", err)
	}
	if err := afero.WriteFile(c.fs, c.cookieFile, data, 0600); err != nil {
		return fmt.Errorf("failed to write cookie file: %w", err)
	}
	return nil
}
