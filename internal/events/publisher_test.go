package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/maltedev/product-research/internal/database"
	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/rates"
)

type MockStore struct {
	mock.Mock
}

func (m *MockStore) SaveRun(ctx context.Context, run *models.Run, events ...*database.OutboxEvent) error {
	args := m.Called(ctx, run, events)
	return args.Error(0)
}

func (m *MockStore) SaveProfit(ctx context.Context, calc *profit.Calculation, events ...*database.OutboxEvent) (uuid.UUID, error) {
	args := m.Called(ctx, calc, events)
	return args.Get(0).(uuid.UUID), args.Error(1)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPublisher_PublishRunCompleted(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	p := NewPublisher(store, testLogger(), Options{})

	run := &models.Run{
		ID:         uuid.NewString(),
		Site:       "seerfar",
		URL:        "https://seerfar.cn",
		Status:     models.RunStatusCompleted,
		Pages:      []int{1, 2, 3},
		StopReason: "last_page",
		Records:    []models.Record{{"title": models.String("Lamp")}},
		StartedAt:  time.Now(),
		FinishedAt: time.Now(),
	}

	var captured []*database.OutboxEvent
	store.On("SaveRun", ctx, run, mock.Anything).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).([]*database.OutboxEvent)
		}).
		Return(nil)

	require.NoError(t, p.PublishRunCompleted(ctx, run))
	require.Len(t, captured, 1)

	event := captured[0]
	assert.Equal(t, "research_run", event.AggregateType)
	assert.Equal(t, run.ID, event.AggregateID)
	assert.Equal(t, "RUN_COMPLETED", event.EventType)
	assert.Equal(t, database.DefaultStream, event.TargetStream)
	assert.NoError(t, event.Validate())

	var payload RunCompletedPayload
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, run.ID, payload.RunID)
	assert.Equal(t, []int{1, 2, 3}, payload.Pages)
	assert.Equal(t, 1, payload.RecordCount)
	assert.Equal(t, "last_page", payload.StopReason)
	assert.Equal(t, "product-research", payload.Source)
	assert.NotEmpty(t, payload.EventID)

	store.AssertExpectations(t)
}

func TestPublisher_PublishRunCompleted_StoreError(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	p := NewPublisher(store, testLogger(), Options{Stream: "stream:custom"})

	run := &models.Run{ID: uuid.NewString(), Site: "ozon", Status: models.RunStatusFailed}
	store.On("SaveRun", ctx, run, mock.MatchedBy(func(events []*database.OutboxEvent) bool {
		return len(events) == 1 && events[0].TargetStream == "stream:custom"
	})).Return(errors.New("db down"))

	err := p.PublishRunCompleted(ctx, run)
	assert.ErrorContains(t, err, "db down")
	store.AssertExpectations(t)
}

func TestPublisher_PublishProfitCalculated(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	p := NewPublisher(store, testLogger(), Options{Source: "research-api"})

	calc := &profit.Calculation{
		SKU:          "SKU-7",
		Category:     profit.CategorySmall,
		Chosen:       profit.Quote{Channel: rates.Channel{Name: "CEL Standard"}, Cost: 300},
		ShippingCost: 300,
		Profit:       900,
		Margin:       30,
		Warnings:     []string{},
	}
	id := uuid.New()

	store.On("SaveProfit", ctx, calc, mock.MatchedBy(func(events []*database.OutboxEvent) bool {
		if len(events) != 1 {
			return false
		}
		var payload ProfitCalculatedPayload
		if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
			return false
		}
		return events[0].AggregateType == "profit_calculation" &&
			events[0].AggregateID == "SKU-7" &&
			payload.Channel == "CEL Standard" &&
			payload.Category == "SMALL" &&
			payload.Source == "research-api"
	})).Return(id, nil)

	got, err := p.PublishProfitCalculated(ctx, calc)
	require.NoError(t, err)
	assert.Equal(t, id, got)
	store.AssertExpectations(t)
}

func TestPublisher_PublishProfitCalculated_NoSKU(t *testing.T) {
	ctx := context.Background()
	store := new(MockStore)
	p := NewPublisher(store, testLogger(), Options{})

	calc := &profit.Calculation{Category: profit.CategoryBudget, Warnings: []string{}}
	store.On("SaveProfit", ctx, calc, mock.MatchedBy(func(events []*database.OutboxEvent) bool {
		return len(events) == 1 && events[0].AggregateID != ""
	})).Return(uuid.New(), nil)

	_, err := p.PublishProfitCalculated(ctx, calc)
	require.NoError(t, err)
	store.AssertExpectations(t)
}
