// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package bitwarden reads credentials from a local Bitwarden CLI API
// server (`bw serve`).
//
// [Client] wraps the handful of endpoints tunnelwarden needs: sync,
// status, unlock, and item search. [Resolver] uses them to fill a
// credential record during vault creation.
package bitwarden

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/bureau-foundation/tunnelwarden/lib/netutil"
	"github.com/bureau-foundation/tunnelwarden/lib/secret"
)

// DefaultURL is where `bw serve` listens unless told otherwise.
const DefaultURL = "http://localhost:8087"

// Vault states reported by Status.
const (
	StatusLocked          = "locked"
	StatusUnlocked        = "unlocked"
	StatusUnauthenticated = "unauthenticated"
)

var (
	// ErrItemNotFound means no item carries exactly the requested name.
	ErrItemNotFound = errors.New("bitwarden item not found")

	// ErrUnauthenticated means the CLI has no logged-in account.
	ErrUnauthenticated = errors.New("bitwarden CLI is not logged in")
)

// Item is a vault item. Only login items carry Login.
type Item struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Login *Login `json:"login"`
}

// Login holds a login item's credentials. TOTP is the authenticator
// seed, not a code.
type Login struct {
	Username string `json:"username"`
	Password string `json:"password"`
	TOTP     string `json:"totp"`
}

// envelope is the shape of every `bw serve` response.
type envelope[T any] struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

// Client talks to one `bw serve` instance.
type Client struct {
	base *url.URL
	http *http.Client
}

// New returns a Client for the server at baseURL. A nil httpClient
// uses http.DefaultClient.
func New(baseURL string, httpClient *http.Client) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parsing bitwarden URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("bitwarden URL %q: scheme must be http or https", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{base: base, http: httpClient}, nil
}

// Sync pulls the latest vault data from the Bitwarden server.
func (c *Client) Sync(ctx context.Context) error {
	var response envelope[json.RawMessage]
	return c.do(ctx, http.MethodPost, "/sync", nil, nil, &response)
}

// Status returns the vault state: StatusLocked, StatusUnlocked, or
// StatusUnauthenticated.
func (c *Client) Status(ctx context.Context) (string, error) {
	var response envelope[struct {
		Template struct {
			Status string `json:"status"`
		} `json:"template"`
	}]
	if err := c.do(ctx, http.MethodGet, "/status", nil, nil, &response); err != nil {
		return "", err
	}
	return response.Data.Template.Status, nil
}

// Unlock unlocks the vault with the master password.
func (c *Client) Unlock(ctx context.Context, password *secret.Buffer) error {
	if password == nil || password.Len() == 0 {
		return errors.New("bitwarden master password is empty")
	}
	body, err := json.Marshal(struct {
		Password string `json:"password"`
	}{Password: password.String()})
	if err != nil {
		return fmt.Errorf("encoding unlock request: %w", err)
	}
	defer secret.Zero(body)

	var response envelope[json.RawMessage]
	return c.do(ctx, http.MethodPost, "/unlock", nil, body, &response)
}

// FindItem searches the vault and returns the item named exactly name.
func (c *Client) FindItem(ctx context.Context, name string) (Item, error) {
	var response envelope[struct {
		Data []Item `json:"data"`
	}]
	query := url.Values{"search": {name}}
	if err := c.do(ctx, http.MethodGet, "/list/object/items", query, nil, &response); err != nil {
		return Item{}, err
	}
	for _, item := range response.Data.Data {
		if item.Name == name {
			return item, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %q", ErrItemNotFound, name)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body []byte, into any) error {
	endpoint := c.base.JoinPath(path)
	endpoint.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	request, err := http.NewRequestWithContext(ctx, method, endpoint.String(), reader)
	if err != nil {
		return fmt.Errorf("building %s %s: %w", method, path, err)
	}
	if body != nil {
		request.Header.Set("Content-Type", "application/json")
	}

	response, err := c.http.Do(request)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer response.Body.Close()

	if err := netutil.CheckStatus(response); err != nil {
		return err
	}
	if err := netutil.DecodeResponse(response.Body, into); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}
