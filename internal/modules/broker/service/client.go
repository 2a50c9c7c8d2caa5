package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	LiveURL = "https://api.ig.com/gateway/deal"
	DemoURL = "https://demo-api.ig.com/gateway/deal"
)

var ErrUnauthorized = errors.New("ig: unauthorized")

type Config struct {
	BaseURL     string        `yaml:"base_url"`
	APIKey      string        `yaml:"api_key"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	AccountType string        `yaml:"account_type"`
	Currency    string        `yaml:"currency"`
	Expiry      string        `yaml:"expiry"`
	Guaranteed  bool          `yaml:"guaranteed_stop"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (c Config) WithDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DemoURL
	}
	if c.AccountType == "" {
		c.AccountType = "SPREADBET"
	}
	if c.Currency == "" {
		c.Currency = "GBP"
	}
	if c.Expiry == "" {
		c.Expiry = "DFB"
	}
	if c.Timeout <= 0 {
		c.Timeout = 10 * time.Second
	}
	return c
}

// Observer counts failed calls; the metrics module implements it.
type Observer interface {
	BrokerError(op string)
}

type nopObserver struct{}

func (nopObserver) BrokerError(string) {}

// Session holds the tokens of one login.
type Session struct {
	CST                   string
	SecurityToken         string
	AccountID             string
	LightstreamerEndpoint string
}

// APIError is a non-2xx answer. Code is IG's errorCode when the body had one.
type APIError struct {
	Op     string
	Status int
	Code   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ig %s: http %d %s", e.Op, e.Status, e.Code)
}

// Client: IG REST client. Safe for concurrent use.
type Client struct {
	cfg  Config
	log  *zap.Logger
	http *http.Client
	obs  Observer

	sf      singleflight.Group
	mu      sync.RWMutex
	session *Session
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	cfg = cfg.WithDefaults()
	if log == nil {
		log = zap.NewNop()
	}
	return &Client{
		cfg:  cfg,
		log:  log.Named("ig"),
		http: &http.Client{Timeout: cfg.Timeout},
		obs:  nopObserver{},
	}
}

func (c *Client) SetObserver(o Observer) { c.obs = o }

func (c *Client) current() *Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

func (c *Client) drop(s *Session) {
	c.mu.Lock()
	if c.session == s {
		c.session = nil
	}
	c.mu.Unlock()
}

// Authenticate returns the live session, logging in when there is none.
// Concurrent callers share one login.
func (c *Client) Authenticate(ctx context.Context) (*Session, error) {
	if s := c.current(); s != nil {
		return s, nil
	}
	v, err, _ := c.sf.Do("session", func() (any, error) {
		if s := c.current(); s != nil {
			return s, nil
		}
		s, err := c.login(ctx)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.session = s
		c.mu.Unlock()
		return s, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Session), nil
}

type loginResponse struct {
	CurrentAccountID      string `json:"currentAccountId"`
	LightstreamerEndpoint string `json:"lightstreamerEndpoint"`
}

func (c *Client) login(ctx context.Context) (*Session, error) {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ig.login")
	defer span.Finish()

	body, err := sonic.Marshal(map[string]string{"identifier": c.cfg.Username, "password": c.cfg.Password})
	if err != nil {
		return nil, errors.Wrap(err, "login: encode")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/session", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "login: new request")
	}
	c.headers(req, nil, "2")

	resp, err := c.http.Do(req)
	if err != nil {
		c.obs.BrokerError("login")
		return nil, errors.Wrap(err, "login: do")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		c.obs.BrokerError("login")
		ext.Error.Set(span, true)
		return nil, errors.Wrapf(ErrUnauthorized, "login: http %d %s", resp.StatusCode, errorCode(data))
	}
	var lr loginResponse
	if err := sonic.Unmarshal(data, &lr); err != nil {
		return nil, errors.Wrap(err, "login: decode")
	}
	s := &Session{
		CST:                   resp.Header.Get("CST"),
		SecurityToken:         resp.Header.Get("X-SECURITY-TOKEN"),
		AccountID:             lr.CurrentAccountID,
		LightstreamerEndpoint: lr.LightstreamerEndpoint,
	}
	if s.CST == "" || s.SecurityToken == "" {
		return nil, errors.Wrap(ErrUnauthorized, "login: no session tokens")
	}
	c.log.Info("logged in", zap.String("account", s.AccountID))
	return s, nil
}

func (c *Client) headers(req *http.Request, s *Session, version string) {
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("Accept", "application/json; charset=UTF-8")
	req.Header.Set("X-IG-API-KEY", c.cfg.APIKey)
	if version != "" {
		req.Header.Set("Version", version)
	}
	if s != nil {
		req.Header.Set("CST", s.CST)
		req.Header.Set("X-SECURITY-TOKEN", s.SecurityToken)
	}
}

// StreamHeaders authenticates and returns the headers the price stream
// expects on its handshake.
func (c *Client) StreamHeaders(ctx context.Context) (http.Header, error) {
	s, err := c.Authenticate(ctx)
	if err != nil {
		return nil, err
	}
	h := http.Header{}
	h.Set("X-IG-API-KEY", c.cfg.APIKey)
	h.Set("CST", s.CST)
	h.Set("X-SECURITY-TOKEN", s.SecurityToken)
	h.Set("IG-ACCOUNT-ID", s.AccountID)
	return h, nil
}

// call is one authenticated request. A 401 drops the session, logs in again
// and retries once. out may be nil.
type call struct {
	op      string
	method  string
	path    string
	version string
	body    any
	// override sends the request as POST with a _method header, the way IG
	// accepts a DELETE with a body
	override string
}

func (c *Client) do(ctx context.Context, cl call, out any) error {
	span, ctx := opentracing.StartSpanFromContext(ctx, "ig."+cl.op)
	defer span.Finish()

	var payload []byte
	if cl.body != nil {
		b, err := sonic.Marshal(cl.body)
		if err != nil {
			return errors.Wrapf(err, "%s: encode", cl.op)
		}
		payload = b
	}

	for attempt := 0; ; attempt++ {
		s, err := c.Authenticate(ctx)
		if err != nil {
			return err
		}
		status, data, err := c.send(ctx, cl, s, payload)
		if err != nil {
			c.obs.BrokerError(cl.op)
			ext.Error.Set(span, true)
			return errors.Wrapf(err, "%s", cl.op)
		}
		if status == http.StatusUnauthorized && attempt == 0 {
			c.log.Warn("session rejected, logging in again", zap.String("op", cl.op))
			c.drop(s)
			continue
		}
		if status/100 != 2 {
			c.obs.BrokerError(cl.op)
			ext.Error.Set(span, true)
			return &APIError{Op: cl.op, Status: status, Code: errorCode(data)}
		}
		if out == nil || len(data) == 0 {
			return nil
		}
		if err := sonic.Unmarshal(data, out); err != nil {
			return errors.Wrapf(err, "%s: decode", cl.op)
		}
		return nil
	}
}

func (c *Client) send(ctx context.Context, cl call, s *Session, payload []byte) (int, []byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, cl.method, c.cfg.BaseURL+cl.path, body)
	if err != nil {
		return 0, nil, err
	}
	c.headers(req, s, cl.version)
	if cl.override != "" {
		req.Header.Set("_method", cl.override)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return resp.StatusCode, data, err
}

func errorCode(data []byte) string {
	var e struct {
		ErrorCode string `json:"errorCode"`
	}
	if sonic.Unmarshal(data, &e) == nil && e.ErrorCode != "" {
		return e.ErrorCode
	}
	return strings.TrimSpace(string(data))
}

// StatusOf returns the HTTP status of an APIError, 0 otherwise.
func StatusOf(err error) int {
	var e *APIError
	if errors.As(err, &e) {
		return e.Status
	}
	return 0
}
