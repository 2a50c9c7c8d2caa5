package service

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"auto_ig/internal/market"
	"auto_ig/internal/models"
	"auto_ig/internal/series"
)

const epic = "CS.D.EURUSD.MINI.IP"

type MockCycler struct{ mock.Mock }

func (m *MockCycler) RunOnce(ctx context.Context) error { return m.Called(ctx).Error(0) }

type MockDesk struct{ mock.Mock }

func (m *MockDesk) Trades() []models.TradeRecord { return m.Called().Get(0).([]models.TradeRecord) }
func (m *MockDesk) Active() int                  { return m.Called().Int(0) }
func (m *MockDesk) Size() float64                { return m.Called().Get(0).(float64) }
func (m *MockDesk) SetSize(v float64)            { m.Called(v) }

type board []models.Signal

func (b board) All() []models.Signal { return b }

type strategies struct{}

func (strategies) Names() []string { return []string{"stoch", "momentum"} }
func (strategies) Dump(epic string) map[string]string {
	return map[string]string{"momentum": "state of " + epic}
}

type history struct{ err error }

func (h history) Recent(_ context.Context, epic string, limit int) ([]models.TradeRecord, error) {
	if h.err != nil {
		return nil, h.err
	}
	return []models.TradeRecord{{ID: "h1", Epic: epic, Size: float64(limit)}}, nil
}

func newTestAPI(t *testing.T, h History) (*gin.Engine, *MockCycler, *MockDesk, *market.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	c := &MockCycler{}
	d := &MockDesk{}
	markets := market.NewRegistry([]string{epic}, series.Config{})
	sigs := board{
		{Epic: epic, Name: "MFI_OPEN", Timeframe: models.Minute30, Score: models.ScoreOpen},
		{Epic: "OTHER", Name: "STOCH_CLOSE", Timeframe: models.Minute5, Score: models.ScoreClose},
	}
	api := NewAPI(zap.NewNop(), c, d, sigs, markets, strategies{}, h)
	return api.Router(), c, d, markets
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRunCycle(t *testing.T) {
	r, c, d, _ := newTestAPI(t, nil)
	c.On("RunOnce", mock.Anything).Return(nil).Once()
	d.On("Active").Return(2)

	w := serve(r, http.MethodPost, "/api/v1/cycle", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeaderKey))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.EqualValues(t, 2, body["trades"])

	c.On("RunOnce", mock.Anything).Return(errors.New("boom")).Once()
	w = serve(r, http.MethodPost, "/api/v1/cycle", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "request_id")
	c.AssertExpectations(t)
}

func TestRequestIDIsEchoed(t *testing.T) {
	r, _, _, _ := newTestAPI(t, nil)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/signals", nil)
	req.Header.Set(RequestIDHeaderKey, "abc")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "abc", w.Header().Get(RequestIDHeaderKey))
}

func TestGetSignalsFiltersByEpic(t *testing.T) {
	r, _, _, _ := newTestAPI(t, nil)

	var all, one []models.Signal
	require.NoError(t, json.Unmarshal(serve(r, http.MethodGet, "/api/v1/signals", "").Body.Bytes(), &all))
	require.NoError(t, json.Unmarshal(serve(r, http.MethodGet, "/api/v1/signals?epic="+epic, "").Body.Bytes(), &one))
	assert.Len(t, all, 2)
	require.Len(t, one, 1)
	assert.Equal(t, "MFI_OPEN", one[0].Name)
}

func TestSize(t *testing.T) {
	r, _, d, _ := newTestAPI(t, nil)
	d.On("SetSize", 1.5).Once()
	d.On("Size").Return(1.5)

	w := serve(r, http.MethodPut, "/api/v1/size", `{"size":1.5}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"size":1.5}`, w.Body.String())

	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPut, "/api/v1/size", `{"size":-1}`).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodPut, "/api/v1/size", `nope`).Code)
	d.AssertNumberOfCalls(t, "SetSize", 1)
}

func TestGetBars(t *testing.T) {
	r, _, _, markets := newTestAPI(t, nil)
	inst, _ := markets.Get(epic)
	t0 := time.Date(2024, 1, 10, 10, 0, 0, 0, time.UTC)
	bars := make([]models.Bar, 3)
	for i := range bars {
		bars[i] = models.Bar{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Close: models.NewPrice(1, 1.1)}
	}
	inst.Lock()
	inst.Store().Append(models.Minute5, bars)
	inst.Unlock()

	w := serve(r, http.MethodGet, "/api/v1/markets/"+epic+"/bars/5m?limit=2", "")
	require.Equal(t, http.StatusOK, w.Code)
	bars = nil
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &bars))
	require.Len(t, bars, 2)
	assert.Equal(t, t0.Add(10*time.Minute), bars[1].Time)

	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/markets/NOPE/bars/5m", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/markets/"+epic+"/bars/WEEK", "").Code)
	assert.Equal(t, "[]", serve(r, http.MethodGet, "/api/v1/markets/"+epic+"/bars/DAY", "").Body.String())
}

func TestStrategies(t *testing.T) {
	r, _, _, _ := newTestAPI(t, nil)
	assert.JSONEq(t, `["momentum","stoch"]`, serve(r, http.MethodGet, "/api/v1/strategies", "").Body.String())
	assert.JSONEq(t, `{"momentum":"state of `+epic+`"}`, serve(r, http.MethodGet, "/api/v1/strategies/"+epic, "").Body.String())
	assert.Equal(t, http.StatusNotFound, serve(r, http.MethodGet, "/api/v1/strategies/NOPE", "").Code)
}

func TestHistory(t *testing.T) {
	r, _, _, _ := newTestAPI(t, nil)
	assert.Equal(t, http.StatusServiceUnavailable, serve(r, http.MethodGet, "/api/v1/trades/history", "").Code)

	r, _, _, _ = newTestAPI(t, history{})
	var recs []models.TradeRecord
	w := serve(r, http.MethodGet, "/api/v1/trades/history?epic=X&limit=5", "")
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	require.Len(t, recs, 1)
	assert.Equal(t, "X", recs[0].Epic)
	assert.Equal(t, 5.0, recs[0].Size)
	assert.Equal(t, http.StatusBadRequest, serve(r, http.MethodGet, "/api/v1/trades/history?limit=0", "").Code)

	r, _, _, _ = newTestAPI(t, history{err: errors.New("db down")})
	assert.Equal(t, http.StatusInternalServerError, serve(r, http.MethodGet, "/api/v1/trades/history", "").Code)
}
