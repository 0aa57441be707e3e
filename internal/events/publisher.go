package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/maltedev/product-research/internal/database"
	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profit"
)

// EventType represents the type of event
type EventType string

const (
	// EventTypeRunCompleted is published when a pagination run finishes,
	// successfully or not.
	EventTypeRunCompleted EventType = "RUN_COMPLETED"
	// EventTypeProfitCalculated is published for every stored calculation.
	EventTypeProfitCalculated EventType = "PROFIT_CALCULATED"
)

const (
	aggregateRun    = "research_run"
	aggregateProfit = "profit_calculation"
)

type RunCompletedPayload struct {
	EventID     string           `json:"event_id"`
	EventType   string           `json:"event_type"`
	Timestamp   time.Time        `json:"timestamp"`
	RunID       string           `json:"run_id"`
	Site        string           `json:"site"`
	URL         string           `json:"url"`
	Status      models.RunStatus `json:"status"`
	Pages       []int            `json:"pages"`
	StopReason  string           `json:"stop_reason"`
	RecordCount int              `json:"record_count"`
	Error       string           `json:"error,omitempty"`
	Source      string           `json:"source"`
}

type ProfitCalculatedPayload struct {
	EventID      string    `json:"event_id"`
	EventType    string    `json:"event_type"`
	Timestamp    time.Time `json:"timestamp"`
	SKU          string    `json:"sku"`
	Category     string    `json:"category"`
	Channel      string    `json:"channel"`
	ShippingCost float64   `json:"shipping_cost"`
	Profit       float64   `json:"profit"`
	Margin       float64   `json:"margin"`
	Warnings     []string  `json:"warnings"`
	Source       string    `json:"source"`
}

// Store is the persistence the publisher writes events through. Events
// are inserted in the same transaction as the data they describe.
type Store interface {
	SaveRun(ctx context.Context, run *models.Run, events ...*database.OutboxEvent) error
	SaveProfit(ctx context.Context, calc *profit.Calculation, events ...*database.OutboxEvent) (uuid.UUID, error)
}

// Publisher handles event publishing using transactional outbox pattern
type Publisher struct {
	store  Store
	stream string
	source string
	logger *slog.Logger
}

type Options struct {
	Stream string
	Source string
}

func NewPublisher(store Store, logger *slog.Logger, opts Options) *Publisher {
	if opts.Stream == "" {
		opts.Stream = database.DefaultStream
	}
	if opts.Source == "" {
		opts.Source = "product-research"
	}
	return &Publisher{
		store:  store,
		stream: opts.Stream,
		source: opts.Source,
		logger: logger.With("component", "event_publisher"),
	}
}

// PublishRunCompleted stores the run and its RUN_COMPLETED event.
func (p *Publisher) PublishRunCompleted(ctx context.Context, run *models.Run) error {
	payload := &RunCompletedPayload{
		EventID:     uuid.New().String(),
		EventType:   string(EventTypeRunCompleted),
		Timestamp:   time.Now(),
		RunID:       run.ID,
		Site:        run.Site,
		URL:         run.URL,
		Status:      run.Status,
		Pages:       run.Pages,
		StopReason:  run.StopReason,
		RecordCount: len(run.Records),
		Error:       run.Error,
		Source:      p.source,
	}
	if payload.Pages == nil {
		payload.Pages = []int{}
	}

	event, err := p.newEvent(aggregateRun, run.ID, EventTypeRunCompleted, payload)
	if err != nil {
		return err
	}

	if err := p.store.SaveRun(ctx, run, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"run_id", run.ID,
		"outbox_id", event.ID,
	)
	return nil
}

// PublishProfitCalculated stores the calculation and its event, returning
// the calculation ID.
func (p *Publisher) PublishProfitCalculated(ctx context.Context, calc *profit.Calculation) (uuid.UUID, error) {
	payload := &ProfitCalculatedPayload{
		EventID:      uuid.New().String(),
		EventType:    string(EventTypeProfitCalculated),
		Timestamp:    time.Now(),
		SKU:          calc.SKU,
		Category:     string(calc.Category),
		Channel:      calc.Chosen.Channel.Name,
		ShippingCost: calc.ShippingCost,
		Profit:       calc.Profit,
		Margin:       calc.Margin,
		Warnings:     calc.Warnings,
		Source:       p.source,
	}

	aggregateID := calc.SKU
	if aggregateID == "" {
		aggregateID = payload.EventID
	}

	event, err := p.newEvent(aggregateProfit, aggregateID, EventTypeProfitCalculated, payload)
	if err != nil {
		return uuid.Nil, err
	}

	id, err := p.store.SaveProfit(ctx, calc, event)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event published to outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"sku", calc.SKU,
		"calculation_id", id,
	)
	return id, nil
}

func (p *Publisher) newEvent(aggregateType, aggregateID string, eventType EventType, payload any) (*database.OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal event: %w", err)
	}

	return &database.OutboxEvent{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     string(eventType),
		Payload:       data,
		TargetStream:  p.stream,
	}, nil
}
