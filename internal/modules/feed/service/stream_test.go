package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type feedServer struct {
	mu      sync.Mutex
	subs    []subscribe
	headers []string
	frames  []string
}

func (f *feedServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return
	}
	var sub subscribe
	_ = sonic.Unmarshal(msg, &sub)
	f.mu.Lock()
	f.subs = append(f.subs, sub)
	f.headers = append(f.headers, r.Header.Get("CST"))
	frames := f.frames
	f.mu.Unlock()

	for _, fr := range frames {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(fr)); err != nil {
			return
		}
	}
	// drop the connection so the client has to come back
}

func TestStreamDecodesAndReconnects(t *testing.T) {
	fs := &feedServer{frames: []string{
		`{"name":"CHART:CS.D.EURUSD.MINI.IP:1MINUTE","values":{"UTM":"1704880810000","LTV":"4","BID_OPEN":"1.1","BID_HIGH":"1.2","BID_LOW":"1.0","BID_CLOSE":"1.15","OFR_OPEN":"1.1002","OFR_HIGH":"1.2002","OFR_LOW":"1.0002","OFR_CLOSE":"1.1502","CONS_END":"0"}}`,
		`not json`,
		`{"name":"CHART:CS.D.EURUSD.MINI.IP:1MINUTE","values":{"UTM":"","BID_CLOSE":"1.15"}}`,
	}}
	srv := httptest.NewServer(fs)
	t.Cleanup(srv.Close)

	auth := func(context.Context) (http.Header, error) {
		h := http.Header{}
		h.Set("CST", "token")
		return h, nil
	}
	s := NewStream(Config{URL: "ws" + strings.TrimPrefix(srv.URL, "http"), BackoffMin: 10 * time.Millisecond}, zap.NewNop(), auth)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ticks := s.Start(ctx, []string{"CS.D.EURUSD.MINI.IP"})

	for i := 0; i < 2; i++ {
		select {
		case tick := <-ticks:
			assert.Equal(t, "CS.D.EURUSD.MINI.IP", tick.Epic)
			assert.Equal(t, time.UnixMilli(1704880810000).UTC(), tick.Time)
			assert.Equal(t, 1.15, tick.Close.Bid)
			assert.Equal(t, 1.1502, tick.Close.Ask)
			assert.Equal(t, 4.0, tick.Volume)
		case <-time.After(5 * time.Second):
			t.Fatal("no tick")
		}
	}
	assert.GreaterOrEqual(t, s.Connections(), 2, "one tick per connection means a reconnect happened")

	fs.mu.Lock()
	require.NotEmpty(t, fs.subs)
	assert.Equal(t, []string{"CHART:CS.D.EURUSD.MINI.IP:1MINUTE"}, fs.subs[0].Items)
	assert.Equal(t, "subscribe", fs.subs[0].Op)
	assert.Equal(t, "token", fs.headers[0])
	fs.mu.Unlock()

	cancel()
	for range ticks {
	}
}

func TestDecodeTickRejectsBadFrames(t *testing.T) {
	_, ok := decodeTick(frame{Name: "CHART", Values: map[string]string{"UTM": "1"}})
	assert.False(t, ok)
	_, ok = decodeTick(frame{Name: "CHART:X:1MINUTE", Values: map[string]string{"UTM": "1000"}})
	assert.False(t, ok, "no close price on either side")

	tick, ok := decodeTick(frame{Name: "CHART:X:1MINUTE", Values: map[string]string{"UTM": "1000", "BID_CLOSE": "2", "OFR_CLOSE": ""}})
	require.True(t, ok)
	assert.Zero(t, tick.Close.Ask)
}
