package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tuya-ble-cloud/internal/domain/credential/model"
	"tuya-ble-cloud/internal/platform/errors"
)

const (
	defaultTimeout  = 10 * time.Second
	maxResponseSize = 4 << 20
	tokenPath       = "token?grant_type=1"
	associatedPath  = "/v1.0/iot-01/associated-users/devices"
)

// Logger is the logging surface the client needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Config describes one client. AccessID, AccessSecret and Region identify the
// cloud project; AccountDeviceID optionally pins the user account.
type Config struct {
	Region          string
	AccessID        string
	AccessSecret    string
	AccountDeviceID string

	Timeout      time.Duration
	RateLimit    float64
	Burst        int
	MaxIdleConns int

	// HTTPClient replaces the lazily built client when set.
	HTTPClient *http.Client
	Logger     Logger
	Now        func() time.Time
}

// Client issues signed requests against one regional API host. It owns its
// access token and HTTP connections; Close releases the connections.
type Client struct {
	cfg     Config
	host    string
	logger  Logger
	limiter *rate.Limiter
	now     func() time.Time

	mu      sync.Mutex
	token   string
	lastErr *Envelope

	httpMu   sync.Mutex
	http     *http.Client
	external bool
}

// NewClient builds a client. No network activity happens until the first call.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	cfg.Region = strings.ToLower(cfg.Region)

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	logger := cfg.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		cfg:      cfg,
		host:     HostForRegion(cfg.Region),
		logger:   logger,
		limiter:  rate.NewLimiter(limit, burst),
		now:      now,
		http:     cfg.HTTPClient,
		external: cfg.HTTPClient != nil,
	}
}

// Host returns the API host chosen for the client's region.
func (c *Client) Host() string { return c.host }

// Region returns the normalized region code.
func (c *Client) Region() string { return c.cfg.Region }

// Token returns the held access token, or "" when none is held.
func (c *Client) Token() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// InvalidateToken drops the held token so the next call fetches a new one.
func (c *Client) InvalidateToken() {
	c.mu.Lock()
	c.token = ""
	c.mu.Unlock()
}

// LastError returns the failure of the most recent token fetch, or nil after a success.
func (c *Client) LastError() *Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// GetToken fetches a new access token. A held token is not refreshed.
func (c *Client) GetToken(ctx context.Context) (string, *Envelope) {
	env := c.do(ctx, tokenPath, http.MethodGet, nil, nil, "")
	if !env.Success {
		if env.Kind == "" {
			env.Kind = errors.KindAuth
		}
		if env.Msg == "" {
			env.Msg = "Unknown error"
		}
		c.logger.Error("Failed to get token: %s", env.Msg)
		c.setTokenResult("", env)
		return "", env
	}

	var res tokenResult
	if bad := env.decodeInto(&res); bad != nil {
		c.setTokenResult("", bad)
		return "", bad
	}
	if res.AccessToken == "" {
		bad := failure(errors.KindMalformed, "token response carries no access_token")
		c.setTokenResult("", bad)
		return "", bad
	}

	c.setTokenResult(res.AccessToken, nil)
	c.logger.Debug("Obtained access token for %s", model.RedactID(c.cfg.AccessID))
	return res.AccessToken, nil
}

func (c *Client) setTokenResult(token string, env *Envelope) {
	c.mu.Lock()
	c.token = token
	c.lastErr = env
	c.mu.Unlock()
}

// ensureToken returns the held token, fetching one when absent.
func (c *Client) ensureToken(ctx context.Context) (string, *Envelope) {
	if token := c.Token(); token != "" {
		return token, nil
	}
	return c.GetToken(ctx)
}

// GetUserID resolves the account owning deviceID.
func (c *Client) GetUserID(ctx context.Context, deviceID string) (string, *Envelope) {
	token, env := c.ensureToken(ctx)
	if env != nil {
		return "", env
	}

	resp := c.do(ctx, "devices/"+deviceID, http.MethodGet, nil, nil, token)
	if !resp.Success {
		c.logger.Error("Failed to get user ID: %s", resp.Msg)
		c.forgetRejectedToken(resp)
		return "", resp
	}

	var owner deviceOwner
	if bad := resp.decodeInto(&owner); bad != nil {
		return "", bad
	}
	if owner.UID == "" {
		return "", failure(errors.KindMalformed, "device response carries no uid")
	}
	return owner.UID, nil
}

// GetDevices lists devices and returns the raw envelope. With no userID and no
// account device id, the devices associated with the cloud project are listed.
func (c *Client) GetDevices(ctx context.Context, userID string) *Envelope {
	token, env := c.ensureToken(ctx)
	if env != nil {
		return &Envelope{Success: false, Msg: "Failed to get token", Code: env.Code, Kind: env.FailureKind()}
	}

	var uri string
	switch {
	case userID != "":
		uri = "users/" + userID + "/devices"
	case c.cfg.AccountDeviceID != "":
		uid, uerr := c.GetUserID(ctx, c.cfg.AccountDeviceID)
		if uerr != nil {
			return &Envelope{Success: false, Msg: "Failed to get user ID", Code: uerr.Code, Kind: uerr.FailureKind()}
		}
		uri = "users/" + uid + "/devices"
		token = c.Token()
	default:
		uri = associatedPath
	}

	resp := c.do(ctx, uri, http.MethodGet, nil, nil, token)
	if !resp.Success {
		c.logger.Error("Failed to get devices: %s", resp.Msg)
		c.forgetRejectedToken(resp)
		return resp
	}
	return resp
}

// ListDevices is GetDevices with the result decoded.
func (c *Client) ListDevices(ctx context.Context, userID string) ([]Device, *Envelope) {
	env := c.GetDevices(ctx, userID)
	if !env.Success {
		return nil, env
	}
	var devices []Device
	if len(env.Result) == 0 || string(env.Result) == "null" {
		return devices, nil
	}
	if bad := env.decodeInto(&devices); bad != nil {
		// The associated-users endpoint wraps the list in an object.
		var paged struct {
			Devices []Device `json:"devices"`
		}
		if json.Unmarshal(env.Result, &paged) != nil {
			return nil, bad
		}
		devices = paged.Devices
	}
	c.logger.Debug("Retrieved %d devices", len(devices))
	return devices, nil
}

// FactoryInfo fetches the factory metadata of one device.
func (c *Client) FactoryInfo(ctx context.Context, deviceID string) (FactoryInfo, *Envelope) {
	env := c.Request(ctx, FactoryInfoPath(deviceID), http.MethodGet, nil, nil)
	if !env.Success {
		return FactoryInfo{}, env
	}
	var infos []FactoryInfo
	if bad := env.decodeInto(&infos); bad != nil {
		return FactoryInfo{}, bad
	}
	if len(infos) == 0 {
		return FactoryInfo{}, failure(errors.KindMalformed, "empty factory info for "+deviceID)
	}
	return infos[0], nil
}

// Request performs an arbitrary authenticated call. Values in query are sent
// but not signed; put signed parameters into uri.
func (c *Client) Request(ctx context.Context, uri, method string, body any, query url.Values) *Envelope {
	token, env := c.ensureToken(ctx)
	if env != nil {
		return &Envelope{Success: false, Msg: "Failed to get token", Code: env.Code, Kind: env.FailureKind()}
	}
	if method == "" {
		method = http.MethodGet
	}
	resp := c.do(ctx, uri, strings.ToUpper(method), body, query, token)
	if !resp.Success {
		c.logger.Warn("Cloud request %s failed: %s", uri, resp.Msg)
		c.forgetRejectedToken(resp)
	}
	return resp
}

func (c *Client) forgetRejectedToken(env *Envelope) {
	if env.TokenRejected() {
		c.logger.Warn("Access token rejected (code %d), dropping it", env.Code)
		c.InvalidateToken()
	}
}

// do signs and sends one request. It never returns nil.
func (c *Client) do(ctx context.Context, uri, method string, body any, query url.Values, token string) *Envelope {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		// Wait refuses up front when the next slot lies past the deadline.
		if ctx.Err() == nil {
			return failure(errors.KindTimeout, "request timed out waiting for rate limit: "+err.Error())
		}
		return classify(ctx, err)
	}

	fullURL := ResolveURL(c.host, uri)
	timestamp := strconv.FormatInt(c.now().UnixMilli(), 10)

	var payload []byte
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return failure(errors.KindMalformed, "encode body: "+err.Error())
		}
		payload = raw
	}

	target := fullURL
	if len(query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(payload))
	if err != nil {
		return failure(errors.KindNetwork, "build request: "+err.Error())
	}
	headers := req.Header
	headers.Set("client_id", c.cfg.AccessID)
	headers.Set("sign_method", signMethod)
	headers.Set("t", timestamp)
	if len(payload) > 0 {
		headers.Set("Content-Type", "application/json")
	}
	if token == "" {
		headers.Set("secret", c.cfg.AccessSecret)
	} else {
		headers.Set("access_token", token)
	}
	headers.Set("sign", Sign(c.cfg.AccessSecret,
		StringToSign(c.cfg.AccessID, token, timestamp, method, payload, CanonicalPath(fullURL))))

	reqID := uuid.NewString()[:8]
	c.logger.Debug("[%s] %s %s headers=%v", reqID, method, fullURL, redactHeaders(headers))

	resp, err := c.httpClient().Do(req)
	if err != nil {
		c.logger.Error("[%s] Request failed: %v", reqID, err)
		return classify(ctx, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return classify(ctx, err)
	}
	c.logger.Debug("[%s] Response status: %d, body: %d bytes", reqID, resp.StatusCode, len(raw))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return failure(errors.KindNetwork, fmt.Sprintf("HTTP %d from %s", resp.StatusCode, c.host))
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return failure(errors.KindMalformed, "decode response: "+err.Error())
	}
	return &env
}

func (c *Client) httpClient() *http.Client {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	if c.http == nil {
		idle := c.cfg.MaxIdleConns
		if idle <= 0 {
			idle = 2
		}
		c.http = &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         (&net.Dialer{Timeout: c.cfg.Timeout, KeepAlive: 30 * time.Second}).DialContext,
				MaxIdleConns:        idle,
				MaxIdleConnsPerHost: idle,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: c.cfg.Timeout,
			},
		}
	}
	return c.http
}

// Close releases idle connections. It is safe to call more than once, and a
// later call recreates the connection pool on demand.
func (c *Client) Close() error {
	c.httpMu.Lock()
	defer c.httpMu.Unlock()
	if c.http == nil {
		return nil
	}
	c.http.CloseIdleConnections()
	if !c.external {
		c.http = nil
	}
	return nil
}

func classify(ctx context.Context, err error) *Envelope {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
		return failure(errors.KindTimeout, "request timed out: "+err.Error())
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return failure(errors.KindTimeout, "request timed out: "+err.Error())
	}
	return failure(errors.KindNetwork, "Request failed: "+err.Error())
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		switch strings.ToLower(k) {
		case "secret", "access_token", "sign":
			continue
		}
		out[k] = h.Get(k)
	}
	return out
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
