package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/maltedev/product-research/internal/models"
	"github.com/maltedev/product-research/internal/profile"
	"github.com/maltedev/product-research/internal/profit"
	"github.com/maltedev/product-research/internal/queue"
	"github.com/maltedev/product-research/internal/rates"
	"github.com/maltedev/product-research/internal/sites"
)

type ProfileResolver interface {
	Resolve(kind profile.Kind) (*profile.BrowserProfile, error)
}

type ProfitPublisher interface {
	PublishProfitCalculated(ctx context.Context, calc *profit.Calculation) (uuid.UUID, error)
}

type RunStore interface {
	List() []models.RunSummary
	Get(id string) (*models.RunSummary, bool)
}

// OutboxStats reports relay backlog for the health check.
type OutboxStats interface {
	GetPendingCount(ctx context.Context) (int64, error)
	GetDeadLetterCount(ctx context.Context) (int64, error)
}

// Deps are the services behind the handlers. Only Calculator and Resolver
// are required; routes backed by a nil dependency answer 503.
type Deps struct {
	Calculator *profit.Calculator
	Resolver   ProfileResolver
	Sites      *sites.Registry
	Queue      queue.Queue
	Runs       RunStore
	Publisher  ProfitPublisher
	Outbox     OutboxStats
}

type Handlers struct {
	deps   Deps
	logger *slog.Logger
}

func NewHandlers(deps Deps, logger *slog.Logger) *Handlers {
	return &Handlers{
		deps:   deps,
		logger: logger.With("component", "api"),
	}
}

// Health reports ok, or degraded when the outbox backlog is unhealthy.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status": "ok",
	}
	status := http.StatusOK

	if h.deps.Outbox != nil {
		pending, _ := h.deps.Outbox.GetPendingCount(r.Context())
		dead, _ := h.deps.Outbox.GetDeadLetterCount(r.Context())
		health["outbox"] = map[string]interface{}{
			"pending":     pending,
			"dead_letter": dead,
		}

		if pending > 1000 {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if dead > 100 {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	if h.deps.Queue != nil {
		health["queue_size"] = h.deps.Queue.Size()
	}

	h.respondJSON(w, status, health)
}

// ChannelsResponse lists the parsed rate table.
type ChannelsResponse struct {
	Channels []rates.Channel `json:"channels"`
	Count    int             `json:"count"`
}

func (h *Handlers) ListChannels(w http.ResponseWriter, r *http.Request) {
	channels := h.deps.Calculator.Channels
	if channels == nil {
		channels = []rates.Channel{}
	}
	h.respondJSON(w, http.StatusOK, ChannelsResponse{
		Channels: channels,
		Count:    len(channels),
	})
}

// ProductRequest is the input of the profit and classify endpoints.
type ProductRequest struct {
	SKU          string  `json:"sku"`
	WeightKg     float64 `json:"weight_kg"`
	PriceRub     float64 `json:"price_rub"`
	PurchaseCost float64 `json:"purchase_cost"`
	LengthCM     float64 `json:"length_cm"`
	WidthCM      float64 `json:"width_cm"`
	HeightCM     float64 `json:"height_cm"`
}

func (req ProductRequest) Product() models.Product {
	return models.Product{
		SKU:          req.SKU,
		WeightKg:     req.WeightKg,
		PriceRub:     req.PriceRub,
		PurchaseCost: req.PurchaseCost,
		Dimensions: models.Dimensions{
			LengthCM: req.LengthCM,
			WidthCM:  req.WidthCM,
			HeightCM: req.HeightCM,
		},
	}
}

type ProfitResponse struct {
	*profit.Calculation
	ID string `json:"id,omitempty"`
}

// CalculateProfit estimates shipping and profit for one product.
func (h *Handlers) CalculateProfit(w http.ResponseWriter, r *http.Request) {
	product, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}

	calc, err := h.deps.Calculator.Calculate(product)
	if err != nil {
		if errors.Is(err, profit.ErrNoEligibleChannel) {
			h.respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		h.logger.Error("failed to calculate profit", "error", err, "sku", product.SKU)
		h.respondError(w, http.StatusInternalServerError, "failed to calculate profit")
		return
	}

	resp := ProfitResponse{Calculation: calc}
	if h.deps.Publisher != nil {
		id, err := h.deps.Publisher.PublishProfitCalculated(r.Context(), calc)
		if err != nil {
			h.logger.Error("failed to store calculation", "error", err, "sku", product.SKU)
		} else {
			resp.ID = id.String()
		}
	}

	h.respondJSON(w, http.StatusOK, resp)
}

type ClassifyResponse struct {
	Category profit.Category `json:"category"`
}

func (h *Handlers) Classify(w http.ResponseWriter, r *http.Request) {
	product, ok := h.decodeProduct(w, r)
	if !ok {
		return
	}
	h.respondJSON(w, http.StatusOK, ClassifyResponse{
		Category: profit.Classify(product.WeightKg, product.PriceRub),
	})
}

func (h *Handlers) decodeProduct(w http.ResponseWriter, r *http.Request) (models.Product, bool) {
	var req ProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return models.Product{}, false
	}

	product := req.Product()
	if problems := product.Validate(); len(problems) > 0 {
		h.respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":   "invalid product",
			"details": problems,
		})
		return models.Product{}, false
	}
	return product, true
}

// GetProfile resolves the user-data profile of the browser named by the
// "browser" query parameter (edge by default).
func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("browser")
	if name == "" {
		name = string(profile.Edge)
	}

	kind, err := profile.ParseKind(name)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.deps.Resolver.Resolve(kind)
	if err != nil {
		if errors.Is(err, profile.ErrUnsupportedPlatform) {
			h.respondError(w, http.StatusNotImplemented, err.Error())
			return
		}
		h.logger.Error("failed to resolve profile", "error", err, "browser", kind)
		h.respondError(w, http.StatusInternalServerError, "failed to resolve profile")
		return
	}

	h.respondJSON(w, http.StatusOK, p)
}

// CreateResearchRequest enqueues a pagination run.
type CreateResearchRequest struct {
	Site     string `json:"site"`
	URL      string `json:"url"`
	MaxPages int    `json:"max_pages"`
	Priority int    `json:"priority"`
}

type CreateResearchResponse struct {
	TaskID  string `json:"task_id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handlers) CreateResearch(w http.ResponseWriter, r *http.Request) {
	if h.deps.Queue == nil || h.deps.Sites == nil {
		h.respondError(w, http.StatusServiceUnavailable, "research worker is not running")
		return
	}

	var req CreateResearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Site == "" {
		h.respondError(w, http.StatusBadRequest, "site is required")
		return
	}
	if _, ok := h.deps.Sites.Lookup(req.Site); !ok {
		h.respondError(w, http.StatusBadRequest, "unknown site: "+req.Site)
		return
	}
	if req.MaxPages < 0 {
		h.respondError(w, http.StatusBadRequest, "max_pages cannot be negative")
		return
	}

	task := queue.NewTask(req.Site, req.URL, req.MaxPages, req.Priority)
	if err := h.deps.Queue.Push(task); err != nil {
		h.logger.Error("failed to enqueue task", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "failed to enqueue task")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateResearchResponse{
		TaskID:  task.ID,
		Status:  "queued",
		Message: "Research task queued",
	})
}

func (h *Handlers) ListSites(w http.ResponseWriter, r *http.Request) {
	if h.deps.Sites == nil {
		h.respondJSON(w, http.StatusOK, []string{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.deps.Sites.Names())
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.deps.Runs == nil {
		h.respondJSON(w, http.StatusOK, []models.RunSummary{})
		return
	}
	h.respondJSON(w, http.StatusOK, h.deps.Runs.List())
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		h.respondError(w, http.StatusBadRequest, "run ID is required")
		return
	}

	if h.deps.Runs == nil {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}

	summary, ok := h.deps.Runs.Get(runID)
	if !ok {
		h.respondError(w, http.StatusNotFound, "run not found")
		return
	}
	h.respondJSON(w, http.StatusOK, summary)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
