package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/domain"
)

const (
	submitPath = "/transactions/send/"
	statusPath = "/transactions/transactions/%s/"

	maxBodyBytes = 1 << 20
)

// TokenSource supplies the session token and is told when the backend
// rejects it. session.Store satisfies it.
type TokenSource interface {
	Token() (string, bool)
	MarkUnauthorized()
}

// Client is the HTTP implementation of Submitter and StatusFetcher.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
	timeout time.Duration
	log     zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying http.Client.
func WithHTTPClient(hc *http.Client) ClientOption { return func(c *Client) { c.http = hc } }

// WithTimeout bounds every call. The default is 10s.
func WithTimeout(d time.Duration) ClientOption { return func(c *Client) { c.timeout = d } }

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) ClientOption { return func(c *Client) { c.log = log } }

// NewClient creates a client for the backend rooted at baseURL, for example
// "https://api.example.com/api".
func NewClient(baseURL string, tokens TokenSource, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		tokens:  tokens,
		timeout: 10 * time.Second,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: c.timeout}
	}
	return c
}

type submitBody struct {
	RecipientPhone string          `json:"recipient_phone"`
	Amount         json.RawMessage `json:"amount"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

type submitResponse struct {
	TransactionID flexString `json:"transaction_id"`
	ReferenceID   string     `json:"reference_id"`
	Status        string     `json:"status"`
}

// Submit implements Submitter.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (SubmitResult, error) {
	body, err := json.Marshal(submitBody{
		RecipientPhone: req.RecipientHandle,
		Amount:         json.RawMessage(req.Amount.String()),
		Description:    req.Description,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return SubmitResult{}, fmt.Errorf("Submit: encode request: %w", err)
	}

	var resp submitResponse
	header := http.Header{"Idempotency-Key": []string{req.IdempotencyKey}}
	if err := c.do(ctx, http.MethodPost, submitPath, header, body, &resp); err != nil {
		return SubmitResult{}, err
	}
	if resp.TransactionID == "" {
		return SubmitResult{}, &Error{Kind: KindServer, Message: "response missing transaction_id"}
	}

	state, err := domain.ParseStatusState(resp.Status)
	if err != nil {
		state = domain.StatusPending
	}
	c.log.Debug().
		Str("txn_id", req.IdempotencyKey).
		Str("remote_id", string(resp.TransactionID)).
		Str("reference", resp.ReferenceID).
		Str("state", string(state)).
		Msg("Submission accepted")

	return SubmitResult{
		RemoteID:     string(resp.TransactionID),
		Reference:    resp.ReferenceID,
		InitialState: state,
	}, nil
}

type statusResponse struct {
	Status        string `json:"status"`
	FailureReason string `json:"failure_reason"`
}

// FetchStatus implements StatusFetcher.
func (c *Client) FetchStatus(ctx context.Context, remoteID string) (StatusResult, error) {
	if remoteID == "" {
		return StatusResult{}, errors.New("FetchStatus: remote id is required")
	}

	var resp statusResponse
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf(statusPath, url.PathEscape(remoteID)), nil, nil, &resp); err != nil {
		return StatusResult{}, err
	}

	state, err := domain.ParseStatusState(resp.Status)
	if err != nil {
		return StatusResult{}, &Error{Kind: KindServer, Message: err.Error()}
	}
	return StatusResult{
		State:         state,
		Terminal:      state.Terminal(),
		FailureReason: resp.FailureReason,
	}, nil
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body []byte, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("%s %s: build request: %w", method, path, err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.tokens != nil {
		if tok, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Token "+tok)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &Error{Kind: Classify(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return &Error{Kind: Classify(err), StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(bytes.TrimSpace(data)) == 0 {
			return nil
		}
		if err := json.Unmarshal(data, out); err != nil {
			return &Error{Kind: KindServer, StatusCode: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
		}
		return nil
	}

	rerr := &Error{
		Kind:       kindForStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    serverMessage(data),
	}
	if resp.StatusCode == http.StatusUnauthorized && c.tokens != nil {
		c.log.Warn().Str("method", method).Str("path", path).Msg("Backend rejected session token")
		c.tokens.MarkUnauthorized()
	}
	return rerr
}

func kindForStatus(code int) Kind {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return KindAuth
	case code == http.StatusRequestTimeout || code == http.StatusTooManyRequests:
		return KindTransient
	case code >= 500:
		return KindServer
	default:
		return KindValidation
	}
}

// serverMessage pulls a human readable message out of an error body. The
// backend uses "error", "detail" or "message" for single messages and
// field-keyed lists for form validation.
func serverMessage(data []byte) string {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return ""
	}

	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		if len(data) > 200 || bytes.HasPrefix(data, []byte("<")) {
			return ""
		}
		return string(data)
	}

	for _, key := range []string{"error", "detail", "message", "non_field_errors"} {
		if msg := firstString(fields[key]); msg != "" {
			return msg
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if msg := firstString(fields[k]); msg != "" {
			return k + ": " + msg
		}
	}
	return ""
}

func firstString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []any:
		for _, item := range t {
			if s := firstString(item); s != "" {
				return s
			}
		}
	}
	return ""
}

// flexString accepts an id the backend may send as either a string or a number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	*f = flexString(b)
	return nil
}

var (
	_ Submitter     = (*Client)(nil)
	_ StatusFetcher = (*Client)(nil)
)
