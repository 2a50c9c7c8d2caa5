package service

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"auto_ig/internal/models"
)

type Config struct {
	Enabled      bool          `yaml:"enabled"`
	URL          string        `yaml:"url"`
	PingInterval time.Duration `yaml:"ping_interval"`
	BackoffMin   time.Duration `yaml:"backoff_min"`
	BackoffMax   time.Duration `yaml:"backoff_max"`
	Buffer       int           `yaml:"buffer"`
}

func (c Config) WithDefaults() Config {
	if c.PingInterval <= 0 {
		c.PingInterval = 20 * time.Second
	}
	if c.BackoffMin <= 0 {
		c.BackoffMin = time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Buffer <= 0 {
		c.Buffer = 1024
	}
	return c
}

// Fields of a chart subscription, in the broker's naming.
var Fields = []string{
	"UTM", "LTV",
	"BID_OPEN", "BID_HIGH", "BID_LOW", "BID_CLOSE",
	"OFR_OPEN", "OFR_HIGH", "OFR_LOW", "OFR_CLOSE",
	"CONS_END",
}

// AuthFunc returns the headers that authenticate the stream.
type AuthFunc func(ctx context.Context) (http.Header, error)

// Observer is told about connection changes; health and metrics use it.
type Observer interface {
	FeedConnected(up bool)
}

type subscribe struct {
	Op     string   `json:"op"`
	Items  []string `json:"items"`
	Fields []string `json:"fields"`
}

type frame struct {
	Name   string            `json:"name"`
	Values map[string]string `json:"values"`
}

// Stream: websocket client for the chart tick feed. One connection carries
// every subscribed epic.
type Stream struct {
	cfg    Config
	log    *zap.Logger
	auth   AuthFunc
	dialer *websocket.Dialer
	obs    []Observer

	mu    sync.Mutex
	conns int
}

func NewStream(cfg Config, log *zap.Logger, auth AuthFunc) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{
		cfg:    cfg.WithDefaults(),
		log:    log.Named("feed"),
		auth:   auth,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

func (s *Stream) AddObserver(o Observer) { s.obs = append(s.obs, o) }

func (s *Stream) notify(up bool) {
	for _, o := range s.obs {
		o.FeedConnected(up)
	}
}

// Connections counts successful dials.
func (s *Stream) Connections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns
}

func ItemName(epic string) string { return "CHART:" + epic + ":1MINUTE" }

// Start streams ticks of epics until ctx is done, reconnecting with backoff.
// The returned channel closes when the stream stops.
func (s *Stream) Start(ctx context.Context, epics []string) <-chan models.Tick {
	ch := make(chan models.Tick, s.cfg.Buffer)
	items := make([]string, 0, len(epics))
	for _, e := range epics {
		items = append(items, ItemName(e))
	}

	go func() {
		defer close(ch)
		if len(items) == 0 {
			return
		}
		backoff := s.cfg.BackoffMin
		for {
			connected, err := s.session(ctx, items, ch)
			if ctx.Err() != nil {
				return
			}
			if connected {
				backoff = s.cfg.BackoffMin
			}
			s.log.Warn("stream dropped, reconnecting", zap.Duration("in", backoff), zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.cfg.BackoffMax {
				backoff = s.cfg.BackoffMax
			}
		}
	}()
	return ch
}

// session runs one connection until it fails. connected reports whether the
// dial and subscribe went through.
func (s *Stream) session(ctx context.Context, items []string, out chan<- models.Tick) (connected bool, err error) {
	var header http.Header
	if s.auth != nil {
		if header, err = s.auth(ctx); err != nil {
			return false, err
		}
	}
	conn, _, err := s.dialer.DialContext(ctx, s.cfg.URL, header)
	if err != nil {
		return false, err
	}
	defer conn.Close()

	body, err := sonic.Marshal(subscribe{Op: "subscribe", Items: items, Fields: Fields})
	if err != nil {
		return false, err
	}
	if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
		return false, err
	}

	s.mu.Lock()
	s.conns++
	s.mu.Unlock()
	s.notify(true)
	defer s.notify(false)
	s.log.Info("stream subscribed", zap.Int("items", len(items)))

	stop := make(chan struct{})
	defer close(stop)
	go s.ping(ctx, conn, stop)

	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return true, err
		}
		var f frame
		if err := sonic.Unmarshal(msg, &f); err != nil || f.Name == "" {
			continue
		}
		t, ok := decodeTick(f)
		if !ok {
			continue
		}
		select {
		case out <- t:
		case <-ctx.Done():
			return true, ctx.Err()
		}
	}
}

// ping keeps the connection alive; gorilla allows one concurrent writer
// besides control frames.
func (s *Stream) ping(ctx context.Context, conn *websocket.Conn, stop <-chan struct{}) {
	t := time.NewTicker(s.cfg.PingInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-t.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.log.Debug("ping failed", zap.Error(err))
				return
			}
		}
	}
}

// decodeTick turns a chart frame into a tick. Empty fields stay zero and
// are repaired by the series store.
func decodeTick(f frame) (models.Tick, bool) {
	parts := strings.Split(f.Name, ":")
	if len(parts) < 2 || parts[1] == "" {
		return models.Tick{}, false
	}
	ms, err := strconv.ParseInt(f.Values["UTM"], 10, 64)
	if err != nil || ms <= 0 {
		return models.Tick{}, false
	}
	num := func(k string) float64 {
		v, _ := strconv.ParseFloat(f.Values[k], 64)
		return v
	}
	t := models.Tick{
		Epic:   parts[1],
		Time:   time.UnixMilli(ms).UTC(),
		Open:   models.NewPrice(num("BID_OPEN"), num("OFR_OPEN")),
		High:   models.NewPrice(num("BID_HIGH"), num("OFR_HIGH")),
		Low:    models.NewPrice(num("BID_LOW"), num("OFR_LOW")),
		Close:  models.NewPrice(num("BID_CLOSE"), num("OFR_CLOSE")),
		Volume: num("LTV"),
	}
	if models.Missing(t.Close.Bid) && models.Missing(t.Close.Ask) {
		return models.Tick{}, false
	}
	return t, true
}
