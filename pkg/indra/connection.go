package indra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/raterudder/indrav2h/pkg/common"
	"github.com/raterudder/indrav2h/pkg/log"
)

// DefaultBaseURL is the Indra smart portal API.
const DefaultBaseURL = "https://smartportal.indra.co.uk"

const (
	loginPath   = "api/auth/login"
	devicesPath = "api/devices"
)

// ErrUnauthorized is returned when the portal rejects the account credentials.
var ErrUnauthorized = errors.New("indra: unauthorized")

// APIError is a non-2xx response from the portal.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("indra api error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("indra api error: status %d: %s", e.StatusCode, e.Message)
}

// Connection holds the account credentials and the portal session. It logs in
// lazily and logs in again once when the session token is rejected.
type Connection struct {
	client   *http.Client
	baseURL  string
	email    string
	password string

	mu    sync.Mutex
	token string
}

// Option configures a Connection.
type Option func(*Connection)

// WithHTTPClient overrides the http client used for every request.
func WithHTTPClient(c *http.Client) Option {
	return func(conn *Connection) {
		conn.client = c
	}
}

// WithBaseURL overrides the portal address.
func WithBaseURL(u string) Option {
	return func(conn *Connection) {
		conn.baseURL = u
	}
}

// NewConnection returns a connection for the given account. No network call
// is made until the first request.
func NewConnection(email, password string, opts ...Option) *Connection {
	c := &Connection{
		client:   common.HTTPClient(time.Minute),
		baseURL:  DefaultBaseURL,
		email:    email,
		password: password,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Email returns the account the connection logs in as.
func (c *Connection) Email() string {
	return c.email
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResult struct {
	Token string `json:"token"`
}

func (c *Connection) login(ctx context.Context) (string, error) {
	if c.email == "" {
		return "", errors.New("missing email")
	}
	if c.password == "" {
		return "", errors.New("missing password")
	}

	body, err := json.Marshal(loginRequest{Email: c.email, Password: c.password})
	if err != nil {
		return "", err
	}
	req, err := c.newRequest(ctx, http.MethodPost, loginPath, body)
	if err != nil {
		return "", err
	}

	var res loginResult
	if err := c.send(req, &res); err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			return "", fmt.Errorf("%w: %s", ErrUnauthorized, apiErr.Message)
		}
		log.Ctx(ctx).ErrorContext(ctx, "indra login failed", slog.Any("error", err))
		return "", fmt.Errorf("login failed: %w", err)
	}
	if res.Token == "" {
		return "", errors.New("login failed: empty token")
	}
	log.Ctx(ctx).DebugContext(ctx, "indra login success", slog.String("email", c.email))
	return res.Token, nil
}

// ensureLogin will not login again if there is already a session token.
func (c *Connection) ensureLogin(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token != "" {
		return c.token, nil
	}
	token, err := c.login(ctx)
	if err != nil {
		return "", err
	}
	c.token = token
	return token, nil
}

func (c *Connection) clearToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	// another request may have already logged in again
	if c.token == token {
		c.token = ""
	}
}

func (c *Connection) newRequest(ctx context.Context, method, endpoint string, body []byte) (*http.Request, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, err
	}
	u.Path, err = url.JoinPath(u.Path, endpoint)
	if err != nil {
		return nil, err
	}

	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// send performs the request without any session handling.
func (c *Connection) send(req *http.Request, dest any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var msg struct {
			Message string `json:"message"`
		}
		// the body isn't always JSON
		if err := json.Unmarshal(body, &msg); err != nil {
			msg.Message = string(bytes.TrimSpace(body))
		}
		return &APIError{StatusCode: resp.StatusCode, Message: msg.Message}
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil
	}

	// some endpoints answer 200 with an error envelope when the session expired
	var env struct {
		Code    *int   `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &env) == nil && env.Code != nil && *env.Code == http.StatusUnauthorized {
		return &APIError{StatusCode: *env.Code, Message: env.Message}
	}

	if dest == nil {
		return nil
	}
	if err := json.Unmarshal(body, dest); err != nil {
		log.Ctx(req.Context()).ErrorContext(req.Context(), "failed to decode indra response", slog.Any("error", err), slog.String("body", string(body)))
		return fmt.Errorf("failed to decode indra response: %w", err)
	}
	return nil
}

// do sends an authenticated request. It tries up to 2 times because the
// session token might have expired.
func (c *Connection) do(ctx context.Context, method, endpoint string, body []byte, dest any) error {
	for i := 0; i < 2; i++ {
		token, err := c.ensureLogin(ctx)
		if err != nil {
			return err
		}
		req, err := c.newRequest(ctx, method, endpoint, body)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)

		err = c.send(req, dest)
		var apiErr *APIError
		if i == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			log.Ctx(ctx).DebugContext(ctx, "indra token expired", slog.String("message", apiErr.Message))
			c.clearToken(token)
			continue
		}
		return err
	}
	return ErrUnauthorized
}

func (c *Connection) get(ctx context.Context, endpoint string, dest any) error {
	return c.do(ctx, http.MethodGet, endpoint, nil, dest)
}

func (c *Connection) post(ctx context.Context, endpoint string, data any, dest any) error {
	body, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, endpoint, body, dest)
}
