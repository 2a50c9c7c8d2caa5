package service

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

// fakeIG serves the endpoints the client uses. Every login issues a new CST.
type fakeIG struct {
	logins    atomic.Int32
	loginWait time.Duration

	mu      sync.Mutex
	valid   string
	expire  bool // next authenticated request answers 401
	methods []string
	bodies  []map[string]any
}

func (f *fakeIG) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/session" && r.Method == http.MethodPost {
		n := f.logins.Add(1)
		time.Sleep(f.loginWait)
		cst := "cst-" + string(rune('0'+n))
		f.mu.Lock()
		f.valid = cst
		f.mu.Unlock()
		w.Header().Set("CST", cst)
		w.Header().Set("X-SECURITY-TOKEN", "xst")
		_, _ = io.WriteString(w, `{"currentAccountId":"ABC12","lightstreamerEndpoint":"https://ls"}`)
		return
	}

	f.mu.Lock()
	ok := r.Header.Get("CST") == f.valid && !f.expire
	f.expire = false
	f.methods = append(f.methods, r.Method+" "+r.Header.Get("_method"))
	if r.Body != nil {
		var body map[string]any
		if b, _ := io.ReadAll(r.Body); len(b) > 0 && sonic.Unmarshal(b, &body) == nil {
			f.bodies = append(f.bodies, body)
		}
	}
	f.mu.Unlock()
	if !ok {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"errorCode":"error.security.client-token-invalid"}`)
		return
	}

	switch {
	case r.URL.Path == "/markets":
		_, _ = io.WriteString(w, `{"marketDetails":[
			{"instrument":{"epic":"CS.D.EURUSD.MINI.IP"},"snapshot":{"bid":1.1,"offer":1.1002,"marketStatus":"TRADEABLE"}},
			{"instrument":{"epic":"CS.D.GBPUSD.MINI.IP"},"snapshot":{"bid":null,"offer":null,"marketStatus":"CLOSED"}}]}`)
	case r.URL.Path == "/prices/CS.D.EURUSD.MINI.IP/MINUTE_5/2":
		_, _ = io.WriteString(w, `{"prices":[
			{"snapshotTime":"2024/01/10 10:00:00","openPrice":{"bid":1.1,"ask":1.1002},"highPrice":{"bid":1.2,"ask":1.2002},"lowPrice":{"bid":1.0,"ask":1.0002},"closePrice":{"bid":1.15,"ask":1.1502},"lastTradedVolume":12},
			{"snapshotTime":"2024/01/10 10:05:00","openPrice":{"bid":1.15,"ask":null},"highPrice":{"bid":1.16,"ask":1.1602},"lowPrice":{"bid":1.14,"ask":1.1402},"closePrice":{"bid":1.155,"ask":1.1552},"lastTradedVolume":3}],
			"allowance":{"remainingAllowance":9990,"totalAllowance":10000,"allowanceExpiry":3600}}`)
	case r.URL.Path == "/positions/otc" && r.Header.Get("_method") == http.MethodDelete:
		_, _ = io.WriteString(w, `{"dealReference":"CLOSEREF"}`)
	case r.URL.Path == "/positions/otc":
		_, _ = io.WriteString(w, `{"dealReference":"REF1"}`)
	case r.URL.Path == "/confirms/REF1":
		_, _ = io.WriteString(w, `{"dealReference":"REF1","dealId":"DIAAA","dealStatus":"ACCEPTED","reason":"SUCCESS","level":1.1002}`)
	case r.URL.Path == "/positions/DIAAA":
		_, _ = io.WriteString(w, `{"position":{"dealId":"DIAAA","direction":"BUY","size":1,"level":1.1002},"market":{"epic":"CS.D.EURUSD.MINI.IP"}}`)
	case r.URL.Path == "/accounts":
		_, _ = io.WriteString(w, `{"accounts":[{"accountId":"XYZ","accountType":"CFD","balance":{"balance":10}},{"accountId":"ABC12","accountType":"SPREADBET","balance":{"balance":2750.5}}]}`)
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"errorCode":"error.position.notfound"}`)
	}
}

func newTestClient(t *testing.T, f *fakeIG) *Client {
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return NewClient(Config{BaseURL: srv.URL, APIKey: "key", Username: "u", Password: "p"}, zap.NewNop())
}

func TestAuthenticateIsSingleFlight(t *testing.T) {
	f := &fakeIG{loginWait: 50 * time.Millisecond}
	c := newTestClient(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Authenticate(context.Background())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, f.logins.Load())

	s, err := c.Authenticate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ABC12", s.AccountID)
	assert.EqualValues(t, 1, f.logins.Load())
}

func TestUnauthorizedRetriesOnceWithNewSession(t *testing.T) {
	f := &fakeIG{}
	c := newTestClient(t, f)
	ctx := context.Background()

	_, err := c.GetMarketSnapshots(ctx, []string{"CS.D.EURUSD.MINI.IP"})
	require.NoError(t, err)
	f.mu.Lock()
	f.expire = true
	f.mu.Unlock()

	quotes, err := c.GetMarketSnapshots(ctx, []string{"CS.D.EURUSD.MINI.IP", "CS.D.GBPUSD.MINI.IP"})
	require.NoError(t, err)
	assert.EqualValues(t, 2, f.logins.Load())
	require.Len(t, quotes, 2)
	assert.InDelta(t, 0.0002, quotes[0].Spread, 1e-9)
	assert.Zero(t, quotes[1].Spread)
	assert.False(t, quotes[1].Tradeable())
}

func TestLoginFailureIsUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = io.WriteString(w, `{"errorCode":"error.security.invalid-details"}`)
	}))
	t.Cleanup(srv.Close)
	c := NewClient(Config{BaseURL: srv.URL}, zap.NewNop())

	_, err := c.Authenticate(context.Background())
	assert.True(t, errors.Is(err, ErrUnauthorized))
}

func TestPriceHistoryDecodes(t *testing.T) {
	c := newTestClient(t, &fakeIG{})

	bars, allowance, err := c.PriceHistory(context.Background(), "CS.D.EURUSD.MINI.IP", models.Minute5, 2)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, time.Date(2024, 1, 10, 10, 5, 0, 0, time.UTC), bars[1].Time)
	assert.Equal(t, 1.2, bars[0].High.Bid)
	assert.Zero(t, bars[1].Open.Ask, "null side is left for the series repair")
	assert.Equal(t, 3.0, bars[1].Volume)
	assert.Equal(t, 9990, allowance.Remaining)
}

func TestOrderRoundTrip(t *testing.T) {
	f := &fakeIG{}
	c := newTestClient(t, f)
	ctx := context.Background()

	ref, err := c.OpenPosition(ctx, models.OpenRequest{Epic: "CS.D.EURUSD.MINI.IP", Direction: models.SideBuy, Size: 1, StopDistance: 150, LimitDistance: 100})
	require.NoError(t, err)
	assert.Equal(t, "REF1", ref)

	conf, err := c.ConfirmDeal(ctx, ref)
	require.NoError(t, err)
	assert.True(t, conf.Accepted())
	assert.Equal(t, "DIAAA", conf.DealID)

	pos, err := c.GetPosition(ctx, "DIAAA")
	require.NoError(t, err)
	assert.Equal(t, models.SideBuy, pos.Direction)
	assert.Equal(t, 1.1002, pos.OpenLevel)

	require.NoError(t, c.ClosePosition(ctx, models.CloseRequest{DealID: "DIAAA", Direction: models.SideSell, Size: 1}))

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, "POST DELETE", f.methods[len(f.methods)-1])
	open := f.bodies[0]
	assert.Equal(t, "DFB", open["expiry"])
	assert.Equal(t, "GBP", open["currencyCode"])
	assert.EqualValues(t, 150, open["stopDistance"])
	assert.Equal(t, true, open["forceOpen"])
}

func TestMissingPositionIsNotFound(t *testing.T) {
	c := newTestClient(t, &fakeIG{})

	_, err := c.GetPosition(context.Background(), "DIGONE")
	assert.True(t, errors.Is(err, models.ErrPositionNotFound))

	err = c.ClosePosition(context.Background(), models.CloseRequest{DealID: "DIGONE"})
	assert.NoError(t, err, "close answers from the otc endpoint")
}

func TestAccountBalancePicksSessionAccount(t *testing.T) {
	c := newTestClient(t, &fakeIG{})

	bal, err := c.GetAccountBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2750.5, bal)
}

func TestStreamHeadersCarrySession(t *testing.T) {
	c := newTestClient(t, &fakeIG{})

	h, err := c.StreamHeaders(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cst-1", h.Get("CST"))
	assert.Equal(t, "xst", h.Get("X-SECURITY-TOKEN"))
	assert.Equal(t, "ABC12", h.Get("IG-ACCOUNT-ID"))
	assert.Equal(t, "key", h.Get("X-IG-API-KEY"))
}
