package easee

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
	"time"

	"easee-invoicing/internal/observability/metrics"
)

// DefaultBaseURL is the public Easee cloud API.
const DefaultBaseURL = "https://api.easee.com/api"

const (
	maxBodyBytes   = 16 << 20
	maxErrorPrefix = 200

	consumptionTimeLayout = "2006-01-02T15:04:05"
)

// DefaultConsumptionPaths lists hourly consumption endpoints in the order they are tried.
// {id} is replaced with the charger id.
var DefaultConsumptionPaths = []string{
	"chargers/lifetime-energy/{id}/hourly",
	"chargers/{id}/consumption/hourly",
	"chargers/{id}/energy/hourly",
	"chargers/{id}/consumption",
}

// Client is a minimal Easee REST client.
type Client struct {
	baseURL          string
	client           *http.Client
	consumptionPaths []string
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.client.Timeout = timeout
		}
	}
}

// WithConsumptionPaths overrides the consumption endpoint templates.
func WithConsumptionPaths(paths []string) Option {
	return func(c *Client) {
		if len(paths) > 0 {
			c.consumptionPaths = append([]string(nil), paths...)
		}
	}
}

// NewClient constructs an Easee client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("easee: empty base url")
	}
	c := &Client{
		baseURL:          strings.TrimRight(baseURL, "/"),
		client:           &http.Client{Timeout: 10 * time.Second},
		consumptionPaths: append([]string(nil), DefaultConsumptionPaths...),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// BaseURL returns the normalized API base.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token is the result of a successful login.
type Token struct {
	AccessToken  string `json:"accessToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
	RefreshToken string `json:"refreshToken"`
}

// Lifetime returns how long a session built on the token may last: expiresIn
// capped at limit, or limit when the API omitted it.
func (t Token) Lifetime(limit time.Duration) time.Duration {
	expires := time.Duration(t.ExpiresIn) * time.Second
	if t.ExpiresIn <= 0 || (limit > 0 && expires > limit) {
		return limit
	}
	return expires
}

// Authenticate exchanges credentials for an access token.
func (c *Client) Authenticate(ctx context.Context, username, password string) (Token, error) {
	if username == "" || password == "" {
		return Token{}, ErrMissingCredentials
	}
	payload := map[string]string{
		"userName": username,
		"password": password,
	}
	endpoint := c.baseURL + "/accounts/login"
	body, status, err := c.do(ctx, http.MethodPost, endpoint, "login", "", nil, payload)
	if err != nil {
		return Token{}, err
	}
	if status != http.StatusOK {
		return Token{}, newAPIError(status, endpoint, strings.TrimSpace(string(body)))
	}
	var token Token
	if err := json.Unmarshal(body, &token); err != nil {
		return Token{}, fmt.Errorf("easee: decode login response: %w", err)
	}
	if token.AccessToken == "" {
		return Token{}, errors.New("easee: login response without access token")
	}
	return token, nil
}

// Sites returns the raw site list visible to the token owner.
func (c *Client) Sites(ctx context.Context, accessToken string) (json.RawMessage, error) {
	return c.getList(ctx, c.baseURL+"/sites", "sites", accessToken)
}

// Chargers returns the raw charger list of a site.
func (c *Client) Chargers(ctx context.Context, accessToken, siteID string) (json.RawMessage, error) {
	if siteID == "" {
		return nil, errors.New("easee: empty site id")
	}
	endpoint := c.baseURL + "/sites/" + url.PathEscape(siteID) + "/chargers"
	return c.getList(ctx, endpoint, "chargers", accessToken)
}

// HourlyConsumption fetches hourly consumption of a charger for one calendar month.
// Endpoints are tried in order; 404 and transport failures fall through to the next
// endpoint, any other non-200 status is returned immediately.
func (c *Client) HourlyConsumption(ctx context.Context, accessToken, chargerID string, year int, month time.Month) (json.RawMessage, error) {
	if chargerID == "" {
		return nil, errors.New("easee: empty charger id")
	}
	from, to, err := MonthWindow(year, month)
	if err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("from", from.Format(consumptionTimeLayout)+".000Z")
	query.Set("to", to.Format(consumptionTimeLayout)+".999Z")

	var lastErr error
	for _, tpl := range c.consumptionPaths {
		path := strings.ReplaceAll(tpl, "{id}", url.PathEscape(chargerID))
		endpoint := c.baseURL + "/" + strings.TrimLeft(path, "/")
		body, status, err := c.do(ctx, http.MethodGet, endpoint, "consumption", accessToken, query, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil, err
			}
			lastErr = fmt.Errorf("Exception for %s: %w", endpoint, err)
			continue
		}
		switch {
		case status == http.StatusOK:
			if len(bytes.TrimSpace(body)) == 0 {
				return json.RawMessage("null"), nil
			}
			return json.RawMessage(body), nil
		case status == http.StatusNotFound:
			lastErr = newAPIError(status, endpoint, "Endpoint not found: "+endpoint)
			continue
		default:
			return nil, newAPIError(status, endpoint, upstreamMessage(status, body))
		}
	}
	if lastErr == nil {
		lastErr = ErrAllEndpointsFailed
	}
	return nil, lastErr
}

// MonthWindow returns the first instant and the last second of a calendar month in UTC.
func MonthWindow(year int, month time.Month) (time.Time, time.Time, error) {
	if year <= 0 || month < time.January || month > time.December {
		return time.Time{}, time.Time{}, ErrInvalidPeriod
	}
	from := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	to := from.AddDate(0, 1, 0).Add(-time.Second)
	return from, to, nil
}

func (c *Client) getList(ctx context.Context, endpoint, label, accessToken string) (json.RawMessage, error) {
	body, status, err := c.do(ctx, http.MethodGet, endpoint, label, accessToken, nil, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, newAPIError(status, endpoint, strings.TrimSpace(string(body)))
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("easee: invalid json from %s", label)
	}
	return json.RawMessage(body), nil
}

func (c *Client) do(ctx context.Context, method, endpoint, label, accessToken string, query url.Values, body any) ([]byte, int, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveUpstream(label, result, time.Since(start))
	}()

	var reqBody io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			result = metrics.ResultError
			return nil, 0, err
		}
		reqBody = bytes.NewReader(payload)
	}
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reqBody)
	if err != nil {
		result = metrics.ResultError
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		result = metrics.ResultError
		return nil, 0, fmt.Errorf("easee: %s %s: %w", method, label, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		result = metrics.ResultError
		return nil, resp.StatusCode, fmt.Errorf("easee: read %s response: %w", label, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		result = metrics.ResultNotFound
	case resp.StatusCode >= 300:
		result = metrics.ResultError
	}
	return data, resp.StatusCode, nil
}

func upstreamMessage(status int, body []byte) string {
	text := string(body)
	if len(text) > maxErrorPrefix {
		text = text[:maxErrorPrefix]
	}
	msg := fmt.Sprintf("Status %d: %s", status, text)

	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return msg
	}
	for _, key := range []string{"message", "error"} {
		if value, ok := payload[key].(string); ok && value != "" {
			return value
		}
	}
	return msg
}
