package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

const (
	// IdempotencyKeyHeader — заголовок с ключом идемпотентности POST /v1/orders.
	IdempotencyKeyHeader = "Idempotency-Key"
	// ReplayedHeader выставляется, когда ответ взят из кеша идемпотентности.
	ReplayedHeader = "Idempotent-Replayed"

	defaultIdempotencyTTL = 24 * time.Hour
	defaultListLimit      = 20
	maxListLimit          = 100

	jsonContentType = "application/json; charset=utf-8"
	internalMessage = "internal server error"
)

// Placer оформляет заказ; реализуется placement.Workflow.
type Placer interface {
	Execute(ctx context.Context, customerID string, lines []domain.OrderLineRequest) (domain.Order, error)
}

// Handler обслуживает HTTP API заказов.
type Handler struct {
	placer      Placer
	orders      domain.OrderRepository
	idem        domain.IdempotencyRepository
	idemTTL     time.Duration
	idemMetrics *metrics.IdempotencyMetrics
	logger      *log.Entry
	now         func() time.Time
}

// Option настраивает Handler.
type Option func(*Handler)

// WithLogger задаёт logger обработчика.
func WithLogger(logger *log.Entry) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithIdempotency включает обработку Idempotency-Key. ttl <= 0 заменяется на 24h.
func WithIdempotency(repo domain.IdempotencyRepository, ttl time.Duration) Option {
	return func(h *Handler) {
		h.idem = repo
		if ttl > 0 {
			h.idemTTL = ttl
		}
	}
}

// WithIdempotencyMetrics задаёт счётчики исходов запросов с Idempotency-Key.
func WithIdempotencyMetrics(m *metrics.IdempotencyMetrics) Option {
	return func(h *Handler) {
		h.idemMetrics = m
	}
}

// NewHandler создаёт обработчик API.
func NewHandler(placer Placer, orders domain.OrderRepository, opts ...Option) *Handler {
	h := &Handler{
		placer:  placer,
		orders:  orders,
		idemTTL: defaultIdempotencyTTL,
		logger:  log.WithField("component", "http-api"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateOrder обрабатывает POST /v1/orders.
func (h *Handler) CreateOrder(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, newErrorResponse("invalid request body"))
		return
	}

	key := strings.TrimSpace(c.GetHeader(IdempotencyKeyHeader))
	if key == "" || h.idem == nil {
		status, body := h.placeOrder(c.Request.Context(), raw)
		c.Data(status, jsonContentType, body)
		return
	}

	h.createOrderIdempotent(c, key, raw)
}

func (h *Handler) createOrderIdempotent(c *gin.Context, key string, raw []byte) {
	ctx := c.Request.Context()
	logger := h.logger.WithField("idempotency_key", key)

	record, err := h.idem.CreateProcessing(ctx, key, requestHash(raw), h.now().UTC().Add(h.idemTTL))
	if err != nil {
		h.replay(c, logger, record, err)
		return
	}
	h.idemMetrics.RecordRequest("new")

	status, body := h.placeOrder(ctx, raw)

	// Ответ сохраняется даже если клиент уже отключился.
	storeCtx := context.WithoutCancel(ctx)
	if domain.StatusForResponse(status) == domain.IdempotencyStatusDone {
		err = h.idem.MarkDone(storeCtx, key, body, status)
	} else {
		err = h.idem.MarkFailed(storeCtx, key, body, status)
	}
	if err != nil {
		logger.WithError(err).Warn("failed to store idempotent response")
	}

	c.Data(status, jsonContentType, body)
}

func (h *Handler) replay(c *gin.Context, logger *log.Entry, record domain.IdempotencyRecord, createErr error) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		h.idemMetrics.RecordRequest("conflict")
		c.JSON(http.StatusConflict, newErrorResponse("idempotency key is already used with a different request"))
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		if !record.Replayable() {
			h.idemMetrics.RecordRequest("in_progress")
			c.JSON(http.StatusConflict, newErrorResponse("request with the same idempotency key is already processing"))
			return
		}
		h.idemMetrics.RecordRequest("replayed")
		c.Header(ReplayedHeader, "true")
		c.Data(record.HTTPStatus, jsonContentType, record.ResponseBody)
	default:
		logger.WithError(createErr).Error("failed to create idempotency record")
		c.JSON(http.StatusInternalServerError, newErrorResponse(internalMessage))
	}
}

// placeOrder возвращает статус и тело ответа: тело нужно целиком, чтобы сохранить его для повторов.
func (h *Handler) placeOrder(ctx context.Context, raw []byte) (int, []byte) {
	var req createOrderRequest
	if err := binding.JSON.BindBody(raw, &req); err != nil {
		return marshalResponse(http.StatusBadRequest, newErrorResponse("invalid request body"))
	}

	order, err := h.placer.Execute(ctx, req.CustomerID, req.lines())
	if err != nil {
		if status, ok := domain.ClientStatusCode(err); ok {
			return marshalResponse(status, newErrorResponse(err.Error()))
		}
		h.logger.WithError(err).WithField("customer_id", req.CustomerID).Error("order placement failed")
		return marshalResponse(http.StatusInternalServerError, newErrorResponse(internalMessage))
	}

	return marshalResponse(http.StatusCreated, toOrderResponse(order))
}

// GetOrder обрабатывает GET /v1/orders/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.orders.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			c.JSON(http.StatusNotFound, newErrorResponse(domain.ErrOrderNotFound.Error()))
			return
		}
		h.logger.WithError(err).WithField("order_id", c.Param("id")).Error("failed to load order")
		c.JSON(http.StatusInternalServerError, newErrorResponse(internalMessage))
		return
	}

	c.JSON(http.StatusOK, toOrderResponse(order))
}

// ListCustomerOrders обрабатывает GET /v1/customers/:id/orders?limit=n.
func (h *Handler) ListCustomerOrders(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxListLimit {
			c.JSON(http.StatusBadRequest, newErrorResponse("limit must be between 1 and "+strconv.Itoa(maxListLimit)))
			return
		}
		limit = n
	}

	orders, err := h.orders.ListByCustomer(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		h.logger.WithError(err).WithField("customer_id", c.Param("id")).Error("failed to list orders")
		c.JSON(http.StatusInternalServerError, newErrorResponse(internalMessage))
		return
	}

	resp := orderListResponse{Orders: make([]orderResponse, 0, len(orders))}
	for _, order := range orders {
		resp.Orders = append(resp.Orders, toOrderResponse(order))
	}
	c.JSON(http.StatusOK, resp)
}

func marshalResponse(status int, payload any) (int, []byte) {
	body, err := json.Marshal(payload)
	if err != nil {
		return http.StatusInternalServerError, []byte(`{"status":"error","message":"internal server error"}`)
	}
	return status, body
}
