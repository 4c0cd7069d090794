// Package backend implements the client boundary to the remote checkpoint
// service that owns person, asset and movement records. The service speaks a
// single-endpoint action protocol: every request is a JSON POST carrying an
// "action" discriminator.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	actionIdentify     = "IDENTIFIER_CODE"
	actionSearchPerson = "SEARCH_PERSON"
	actionLinkAsset    = "LINK_ASSET"
	actionLogMovement  = "LOG_MOVEMENT"
)

// DefaultTimeout bounds every backend call. A timed-out identification is
// surfaced to the operator as a connection error; there is no automatic
// retry.
const DefaultTimeout = 30 * time.Second

// Client talks to the remote checkpoint service.
type Client struct {
	base string
	http *http.Client
}

// New creates a client for the given base URL.
func New(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout:   DefaultTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// NewWithHTTPClient creates a client with a caller-supplied http.Client.
// Used by tests to shorten timeouts.
func NewWithHTTPClient(base string, hc *http.Client) *Client {
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

// Identify resolves a scanned code to a person or asset.
func (c *Client) Identify(ctx context.Context, code string) (*IdentifyResult, error) {
	return c.lookup(ctx, actionIdentify, code)
}

// SearchPerson looks up a person by id for the admin panel. Response shape is
// identical to Identify.
func (c *Client) SearchPerson(ctx context.Context, personID string) (*IdentifyResult, error) {
	return c.lookup(ctx, actionSearchPerson, personID)
}

func (c *Client) lookup(ctx context.Context, action, code string) (*IdentifyResult, error) {
	payload := map[string]any{
		"action":   action,
		"code":     code,
		"personId": code,
	}
	var out IdentifyResult
	if err := c.post(ctx, action, payload, &out); err != nil {
		return nil, err
	}
	switch out.Status {
	case StatusSuccess, StatusNotFound, StatusError:
	default:
		return nil, &CallError{Sentinel: ErrBadResponse, Operation: action, Message: "unknown status " + string(out.Status)}
	}
	return &out, nil
}

// Register creates a person (and optionally their asset) in one call.
func (c *Client) Register(ctx context.Context, reg Registration) error {
	payload := map[string]any{
		"action":       actionLinkAsset,
		"personId":     reg.PersonID,
		"name":         reg.PersonName,
		"assetId":      reg.AssetID,
		"description":  reg.AssetDescription,
		"createPerson": true,
	}
	return c.statusCall(ctx, actionLinkAsset, payload)
}

// LogMovement records one entry/exit event for audit. The boolean success of
// this call gates what the operator sees, so errors are returned rather than
// swallowed.
func (c *Client) LogMovement(ctx context.Context, mv Movement) error {
	payload := map[string]any{
		"action":    actionLogMovement,
		"direction": mv.Direction,
		"personId":  mv.PersonID,
		"assetId":   mv.AssetID,
		"outcome":   mv.Outcome,
	}
	if mv.PersonName != "" {
		payload["personName"] = mv.PersonName
	}
	return c.statusCall(ctx, actionLogMovement, payload)
}

// statusCall issues a request whose response carries only status/message.
func (c *Client) statusCall(ctx context.Context, action string, payload map[string]any) error {
	var out struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := c.post(ctx, action, payload, &out); err != nil {
		return err
	}
	if out.Status != string(StatusSuccess) {
		return &CallError{Sentinel: ErrRejected, Operation: action, Message: out.Message}
	}
	return nil
}

func (c *Client) post(ctx context.Context, operation string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return &CallError{Sentinel: ErrBadResponse, Operation: operation, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base, bytes.NewReader(body))
	if err != nil {
		return &CallError{Sentinel: ErrUnavailable, Operation: operation, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.http.Do(req)
	if err != nil {
		sentinel := ErrUnavailable
		if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
			sentinel = ErrTimeout
		}
		return &CallError{Sentinel: sentinel, Operation: operation, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return &CallError{Sentinel: ErrUnavailable, Operation: operation, Status: res.StatusCode}
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return &CallError{Sentinel: ErrBadResponse, Operation: operation, Err: err}
	}
	return nil
}

func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
