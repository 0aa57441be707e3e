package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profile"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/queue"
	"github.com/maltedev/product-research/internal/rates"
	"github.com/maltedev/product-research/internal/sites"
)

type stubResolver struct {
	profile *profile.BrowserProfile
	err     error
}

func (s stubResolver) Resolve(kind profile.Kind) (*profile.BrowserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	p := *s.profile
	p.Kind = kind
	return &p, nil
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) PublishProfitCalculated(ctx context.Context, calc *profit.Calculation) (uuid.UUID, error) {
	args := m.Called(ctx, calc)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

type stubOutbox struct {
	pending, dead int64
}

func (s stubOutbox) GetPendingCount(context.Context) (int64, error)    { return s.pending, nil }
func (s stubOutbox) GetDeadLetterCount(context.Context) (int64, error) { return s.dead, nil }

type stubRuns struct {
	runs []models.RunSummary
}

func (s stubRuns) List() []models.RunSummary { return s.runs }

func (s stubRuns) Get(id string) (*models.RunSummary, bool) {
	for i := range s.runs {
		if s.runs[i].ID == id {
			return &s.runs[i], true
		}
	}
	return nil, false
}

func testChannels() []rates.Channel {
	return []rates.Channel{
		{Provider: "OZON", Name: "OZON Express", BaseFee: 10, WeightFee: 40, WeightUnit: rates.UnitKg, MaxWeightKg: 30},
		{Provider: "OZON", Name: "OZON Economy", BaseFee: 3, WeightFee: 20, WeightUnit: rates.UnitKg, MaxWeightKg: 2},
	}
}

func newTestServer(t *testing.T, deps Deps) http.Handler {
	t.Helper()
	if deps.Calculator == nil {
		deps.Calculator = profit.NewCalculator(testChannels(), 0.08, 0.15, 0)
	}
	if deps.Resolver == nil {
		deps.Resolver = stubResolver{profile: &profile.BrowserProfile{Root: "/home/u/.config/microsoft-edge", Name: "Default"}}
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(NewHandlers(deps, logger), nil)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestHealth(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		srv := newTestServer(t, Deps{Outbox: stubOutbox{pending: 3}})
		rec := do(t, srv, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("dead letters", func(t *testing.T) {
		srv := newTestServer(t, Deps{Outbox: stubOutbox{dead: 101}})
		rec := do(t, srv, http.MethodGet, "/health", nil)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, "error", body["status"])
	})
}

func TestListChannels(t *testing.T) {
	srv := newTestServer(t, Deps{})
	rec := do(t, srv, http.MethodGet, "/api/v1/channels", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var body ChannelsResponse
	decode(t, rec, &body)
	assert.Equal(t, 2, body.Count)
	assert.Equal(t, "OZON Express", body.Channels[0].Name)
}

func TestCalculateProfit(t *testing.T) {
	t.Run("cheapest eligible channel", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/profit", ProductRequest{
			SKU: "SKU-1", WeightKg: 1, PriceRub: 5000, PurchaseCost: 100,
		})

		require.Equal(t, http.StatusOK, rec.Code)
		var body profit.Calculation
		decode(t, rec, &body)
		assert.Equal(t, "OZON Economy", body.Chosen.Channel.Name)
		assert.InDelta(t, 23.0, body.ShippingCost, 1e-9)
		assert.Len(t, body.Candidates, 2)
		assert.Equal(t, profit.CategorySmall, body.Category)
	})

	t.Run("no eligible channel", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/profit", ProductRequest{WeightKg: 50, PriceRub: 5000})
		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	})

	t.Run("invalid product", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/profit", ProductRequest{WeightKg: 0, PriceRub: -1})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "weight must be positive")
	})

	t.Run("malformed body", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		req := httptest.NewRequest(http.MethodPost, "/api/v1/profit", bytes.NewBufferString("{"))
		rec := httptest.NewRecorder()
		srv.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stored when publisher configured", func(t *testing.T) {
		pub := new(MockPublisher)
		id := uuid.New()
		pub.On("PublishProfitCalculated", mock.Anything, mock.MatchedBy(func(c *profit.Calculation) bool {
			return c.SKU == "SKU-2"
		})).Return(id, nil)

		srv := newTestServer(t, Deps{Publisher: pub})
		rec := do(t, srv, http.MethodPost, "/api/v1/profit", ProductRequest{SKU: "SKU-2", WeightKg: 1, PriceRub: 5000})

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decode(t, rec, &body)
		assert.Equal(t, id.String(), body["id"])
		pub.AssertExpectations(t)
	})

	t.Run("publisher failure still answers", func(t *testing.T) {
		pub := new(MockPublisher)
		pub.On("PublishProfitCalculated", mock.Anything, mock.Anything).Return(uuid.Nil, errors.New("db down"))

		srv := newTestServer(t, Deps{Publisher: pub})
		rec := do(t, srv, http.MethodPost, "/api/v1/profit", ProductRequest{WeightKg: 1, PriceRub: 5000})

		require.Equal(t, http.StatusOK, rec.Code)
		var body map[string]interface{}
		decode(t, rec, &body)
		assert.NotContains(t, body, "id")
	})
}

func TestClassify(t *testing.T) {
	srv := newTestServer(t, Deps{})

	tests := []struct {
		weight, price float64
		want          profit.Category
	}{
		{0.3, 1000, profit.CategoryExtraSmall},
		{0.6, 1200, profit.CategoryBudget},
		{1.5, 3000, profit.CategorySmall},
		{10, 3000, profit.CategoryBig},
		{3, 9000, profit.CategoryPremiumSmall},
		{10, 9000, profit.CategoryPremiumBig},
	}

	for _, tt := range tests {
		rec := do(t, srv, http.MethodPost, "/api/v1/classify", ProductRequest{WeightKg: tt.weight, PriceRub: tt.price})
		require.Equal(t, http.StatusOK, rec.Code)

		var body ClassifyResponse
		decode(t, rec, &body)
		assert.Equal(t, tt.want, body.Category, "weight=%v price=%v", tt.weight, tt.price)
	}
}

func TestGetProfile(t *testing.T) {
	t.Run("default browser", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodGet, "/api/v1/profile", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		var body profile.BrowserProfile
		decode(t, rec, &body)
		assert.Equal(t, profile.Edge, body.Kind)
		assert.Equal(t, "Default", body.Name)
	})

	t.Run("chrome", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodGet, "/api/v1/profile?browser=chrome", nil)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"browser_kind":"chrome"`)
	})

	t.Run("unknown browser", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodGet, "/api/v1/profile?browser=firefox", nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unsupported platform", func(t *testing.T) {
		srv := newTestServer(t, Deps{Resolver: stubResolver{err: profile.ErrUnsupportedPlatform}})
		rec := do(t, srv, http.MethodGet, "/api/v1/profile", nil)
		assert.Equal(t, http.StatusNotImplemented, rec.Code)
	})
}

func TestCreateResearch(t *testing.T) {
	t.Run("queued", func(t *testing.T) {
		q := queue.NewInMemoryQueue()
		srv := newTestServer(t, Deps{Queue: q, Sites: sites.Defaults()})

		rec := do(t, srv, http.MethodPost, "/api/v1/research", CreateResearchRequest{Site: "seerfar", MaxPages: 3})
		require.Equal(t, http.StatusAccepted, rec.Code)

		var body CreateResearchResponse
		decode(t, rec, &body)
		assert.NotEmpty(t, body.TaskID)
		assert.Equal(t, 1, q.Size())

		task, err := q.TryPop()
		require.NoError(t, err)
		assert.Equal(t, "seerfar", task.Site)
		assert.Equal(t, 3, task.MaxPages)
	})

	t.Run("unknown site", func(t *testing.T) {
		srv := newTestServer(t, Deps{Queue: queue.NewInMemoryQueue(), Sites: sites.Defaults()})
		rec := do(t, srv, http.MethodPost, "/api/v1/research", CreateResearchRequest{Site: "amazon"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("closed queue", func(t *testing.T) {
		q := queue.NewInMemoryQueue()
		require.NoError(t, q.Close())
		srv := newTestServer(t, Deps{Queue: q, Sites: sites.Defaults()})

		rec := do(t, srv, http.MethodPost, "/api/v1/research", CreateResearchRequest{Site: "ozon"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("no worker", func(t *testing.T) {
		srv := newTestServer(t, Deps{})
		rec := do(t, srv, http.MethodPost, "/api/v1/research", CreateResearchRequest{Site: "ozon"})
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestRuns(t *testing.T) {
	runs := stubRuns{runs: []models.RunSummary{
		{ID: "run-1", Site: "seerfar", Status: models.RunStatusCompleted, RecordCount: 40},
	}}
	srv := newTestServer(t, Deps{Runs: runs, Sites: sites.Defaults()})

	rec := do(t, srv, http.MethodGet, "/api/v1/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []models.RunSummary
	decode(t, rec, &list)
	require.Len(t, list, 1)
	assert.Equal(t, 40, list[0].RecordCount)

	rec = do(t, srv, http.MethodGet, "/api/v1/runs/run-1", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/runs/missing", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodGet, "/api/v1/sites", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var names []string
	decode(t, rec, &names)
	assert.Equal(t, []string{"erp", "ozon", "seerfar"}, names)
}
