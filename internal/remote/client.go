package remote

import (
	"bytes"
	"context"
	"encoding/json"
	stdErrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/angelmondragon/cartsync/internal/session"
	"github.com/angelmondragon/cartsync/pkg/config"
	pkgerrors "github.com/angelmondragon/cartsync/pkg/errors"
	"github.com/angelmondragon/cartsync/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/sony/gobreaker/v2"
)

const (
	// HeaderCartSession carries the anonymous session id to the cart service.
	HeaderCartSession = "X-Cart-Session"
	headerRequestID   = "X-Request-Id"

	maxErrorBody = 4 << 10
)

type requestIDKey struct{}

// WithRequestID tags outgoing calls made with ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

type response struct {
	status int
	body   []byte
}

// Client is the shared JSON-over-HTTP plumbing for the cart and catalog services.
type Client struct {
	name     string
	baseURL  *url.URL
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker[*response]
	validate *validator.Validate
	logg     *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

func WithLogger(logg *logger.Logger) ClientOption {
	return func(c *Client) {
		if logg != nil {
			c.logg = logg
		}
	}
}

// NewClient builds a client for baseURL with its own circuit breaker.
func NewClient(name, baseURL string, cfg config.RemoteConfig, opts ...ClientOption) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid %s base url %q", name, baseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		name:     name,
		baseURL:  u,
		http:     &http.Client{Timeout: timeout},
		validate: validator.New(),
		logg:     logger.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[*response](breakerSettings(name, cfg, c.logg))
	return c, nil
}

func breakerSettings(name string, cfg config.RemoteConfig, logg *logger.Logger) gobreaker.Settings {
	maxFailures := cfg.BreakerMaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	return gobreaker.Settings{
		Name:     name,
		Interval: cfg.BreakerInterval,
		Timeout:  cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		// Only an unreachable or failing service trips the breaker; a 4xx
		// answer means the service is healthy.
		IsSuccessful: func(err error) bool {
			return err == nil || !pkgerrors.Is(err, pkgerrors.CodeDependency)
		},
		IsExcluded: func(err error) bool {
			return stdErrors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			ctx := logg.WithFields(context.Background(), map[string]any{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
			logg.Warn(ctx, "circuit breaker state changed")
		},
	}
}

// Do sends a JSON request and decodes a 2xx JSON answer into out when out
// is non-nil. An empty 2xx body is a broken answer when out is non-nil.
// Non-2xx answers are mapped onto typed errors.
func (c *Client) Do(ctx context.Context, method, path string, id session.Identity, in, out any) error {
	var payload []byte
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode request")
		}
		payload = raw
	}

	resp, err := c.breaker.Execute(func() (*response, error) {
		return c.roundTrip(ctx, method, path, id, payload)
	})
	if err != nil {
		if stdErrors.Is(err, gobreaker.ErrOpenState) || stdErrors.Is(err, gobreaker.ErrTooManyRequests) {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s service unavailable", c.name))
		}
		return err
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(resp.body)) == 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("empty %s response", c.name)).
			WithDetails(map[string]any{"status": resp.status})
	}
	if err := json.Unmarshal(resp.body, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("decode %s response", c.name))
	}
	if err := c.validate.StructCtx(ctx, out); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("invalid %s response", c.name)).
			WithDetails(validationDetails(err))
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, id session.Identity, payload []byte) (*response, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request path")
	}
	u := c.baseURL.ResolveReference(ref)

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	setIdentityHeaders(req.Header, id)
	if rid, ok := ctx.Value(requestIDKey{}).(string); ok && rid != "" {
		req.Header.Set(headerRequestID, rid)
	}

	started := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, fmt.Sprintf("%s %s failed", method, path))
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read response")
	}

	logCtx := c.logg.WithFields(ctx, map[string]any{
		"remote":      c.name,
		"method":      method,
		"path":        path,
		"status":      res.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	c.logg.Debug(logCtx, "remote call")

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, statusError(res.StatusCode, raw)
	}
	return &response{status: res.StatusCode, body: raw}, nil
}

func setIdentityHeaders(h http.Header, id session.Identity) {
	if id.Authenticated && id.Token != "" {
		h.Set("Authorization", "Bearer "+id.Token)
		return
	}
	if id.SessionID != "" {
		h.Set(HeaderCartSession, id.SessionID)
	}
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// statusError maps a non-2xx answer onto a typed error. A conflict or
// unprocessable answer tagged OUT_OF_STOCK becomes CodeOutOfStock.
func statusError(status int, raw []byte) error {
	code := pkgerrors.FromHTTPStatus(status)

	var eb errorBody
	message := ""
	if len(raw) > 0 && json.Unmarshal(raw, &eb) == nil {
		remoteCode := eb.Code
		message = eb.Message
		if eb.Error != nil {
			remoteCode = eb.Error.Code
			message = eb.Error.Message
		}
		if strings.EqualFold(remoteCode, string(pkgerrors.CodeOutOfStock)) &&
			(status == http.StatusConflict || status == http.StatusUnprocessableEntity || status == http.StatusBadRequest) {
			code = pkgerrors.CodeOutOfStock
		}
	}
	if message == "" {
		snippet := raw
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		message = strings.TrimSpace(string(snippet))
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return pkgerrors.New(code, fmt.Sprintf("remote returned %d: %s", status, message)).
		WithDetails(map[string]any{"status": status})
}

func validationDetails(err error) map[string]string {
	var verrs validator.ValidationErrors
	if !stdErrors.As(err, &verrs) {
		return nil
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Namespace()] = fe.Tag()
	}
	return out
}
