package placement

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
	"github.com/vladislavdragonenkov/orderflow/internal/metrics"
)

// Workflow оформляет заказ: проверяет клиента и товары, фиксирует цены,
// сохраняет заказ и списывает остатки.
type Workflow struct {
	customers domain.CustomerRepository
	products  domain.ProductRepository
	orders    domain.OrderRepository

	outbox  domain.OutboxRepository
	uow     domain.UnitOfWork
	logger  *log.Entry
	metrics *metrics.PlacementMetrics
}

// Option настраивает Workflow.
type Option func(*Workflow)

// WithLogger задаёт логгер.
func WithLogger(logger *log.Entry) Option {
	return func(w *Workflow) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithMetrics включает метрики оформления. Без опции метрики не пишутся.
func WithMetrics(m *metrics.PlacementMetrics) Option {
	return func(w *Workflow) {
		w.metrics = m
	}
}

// WithOutbox задаёт outbox для события OrderPlaced в режиме без транзакции.
func WithOutbox(outbox domain.OutboxRepository) Option {
	return func(w *Workflow) {
		w.outbox = outbox
	}
}

// WithUnitOfWork выполняет сохранение заказа, списание остатков и запись события
// в одной транзакции.
func WithUnitOfWork(uow domain.UnitOfWork) Option {
	return func(w *Workflow) {
		w.uow = uow
	}
}

// NewWorkflow создаёт workflow оформления заказов.
func NewWorkflow(
	customers domain.CustomerRepository,
	products domain.ProductRepository,
	orders domain.OrderRepository,
	opts ...Option,
) *Workflow {
	w := &Workflow{
		customers: customers,
		products:  products,
		orders:    orders,
		logger:    log.WithField("component", "placement"),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Execute оформляет заказ клиента customerID из позиций lines.
//
// Ошибки входных данных возвращаются как *domain.ClientError. До сохранения
// заказа workflow ничего не пишет. Ошибки репозиториев возвращаются как есть.
func (w *Workflow) Execute(ctx context.Context, customerID string, lines []domain.OrderLineRequest) (order domain.Order, err error) {
	start := time.Now()
	if w.metrics != nil {
		w.metrics.RecordStarted()
		defer func() {
			w.metrics.RecordFinished(time.Since(start))
			if err != nil {
				w.metrics.RecordFailed(failureReason(err))
			}
		}()
	}

	customer, err := w.customers.Get(ctx, customerID)
	if err != nil {
		if errors.Is(err, domain.ErrCustomerNotFound) {
			return domain.Order{}, domain.NewClientError(err, domain.DefaultClientErrorStatus)
		}
		return domain.Order{}, err
	}

	if err := validateLines(lines); err != nil {
		return domain.Order{}, err
	}

	ids := domain.DistinctProductIDs(lines)
	products, err := w.products.FindAllByID(ctx, ids)
	if err != nil {
		return domain.Order{}, err
	}
	catalog := make(map[string]domain.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}
	if len(products) != len(ids) {
		missing := &domain.MissingProductsError{ProductIDs: missingIDs(ids, catalog)}
		return domain.Order{}, domain.NewClientError(missing, domain.DefaultClientErrorStatus)
	}

	items, adjustments, err := plan(lines, catalog)
	if err != nil {
		return domain.Order{}, err
	}

	if w.uow != nil {
		order, err = w.persistAtomically(ctx, customer, items, adjustments)
	} else {
		order, err = w.persist(ctx, customer, items, adjustments)
	}
	if err != nil {
		return domain.Order{}, err
	}

	if w.metrics != nil {
		w.metrics.RecordCompleted(len(order.Items))
	}
	w.logger.WithFields(log.Fields{
		"order_id":    order.ID,
		"customer_id": order.CustomerID,
		"lines":       len(order.Items),
		"total":       domain.FormatMoney(order.Total()),
	}).Info("order placed")

	return order, nil
}

func (w *Workflow) persistAtomically(
	ctx context.Context,
	customer domain.Customer,
	items []domain.OrderItem,
	adjustments []domain.StockAdjustment,
) (domain.Order, error) {
	var order domain.Order
	err := w.uow.WithinTx(ctx, func(ctx context.Context, repos domain.TxRepositories) error {
		created, err := repos.Orders.Create(ctx, customer, items)
		if err != nil {
			return err
		}
		if err := repos.Products.UpdateQuantity(ctx, adjustments); err != nil {
			return err
		}
		if repos.Outbox != nil {
			if err := w.enqueuePlaced(ctx, repos.Outbox, created, adjustments); err != nil {
				return err
			}
		}
		order = created
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

// persist выполняет две независимые записи. Если списание остатков не удалось,
// заказ остаётся сохранённым: ошибка возвращается и попадает в лог и метрики.
func (w *Workflow) persist(
	ctx context.Context,
	customer domain.Customer,
	items []domain.OrderItem,
	adjustments []domain.StockAdjustment,
) (domain.Order, error) {
	order, err := w.orders.Create(ctx, customer, items)
	if err != nil {
		return domain.Order{}, err
	}

	if err := w.products.UpdateQuantity(ctx, adjustments); err != nil {
		w.logger.WithError(err).WithFields(log.Fields{
			"order_id":    order.ID,
			"customer_id": order.CustomerID,
		}).Error("order persisted but stock was not committed")
		if w.metrics != nil {
			w.metrics.RecordStockCommitFailed()
		}
		return domain.Order{}, err
	}

	if w.outbox != nil {
		if err := w.enqueuePlaced(ctx, w.outbox, order, adjustments); err != nil {
			w.logger.WithError(err).WithField("order_id", order.ID).Warn("enqueue OrderPlaced failed")
		}
	}
	return order, nil
}

func (w *Workflow) enqueuePlaced(
	ctx context.Context,
	outbox domain.OutboxRepository,
	order domain.Order,
	adjustments []domain.StockAdjustment,
) error {
	msg, err := newOrderPlacedMessage(order, adjustments)
	if err != nil {
		return err
	}
	if _, err := outbox.Enqueue(ctx, msg); err != nil {
		return fmt.Errorf("enqueue %s: %w", msg.EventType, err)
	}
	if w.metrics != nil {
		w.metrics.RecordOutboxEnqueued()
	}
	return nil
}

func validateLines(lines []domain.OrderLineRequest) error {
	if len(lines) == 0 {
		return domain.NewClientError(domain.ErrItemsRequired, domain.DefaultClientErrorStatus)
	}
	for i, line := range lines {
		if line.ProductID == "" {
			return domain.NewClientError(fmt.Errorf("line %d: %w", i, domain.ErrProductIDRequired), domain.DefaultClientErrorStatus)
		}
		if line.Qty <= 0 {
			return domain.NewClientError(fmt.Errorf("line %d: %w", i, domain.ErrItemQtyInvalid), domain.DefaultClientErrorStatus)
		}
	}
	return nil
}

// plan сопоставляет позиции с каталогом и считает корректировки остатков.
// Повторяющийся товар проверяется по остатку, уменьшенному предыдущими позициями.
func plan(lines []domain.OrderLineRequest, catalog map[string]domain.Product) ([]domain.OrderItem, []domain.StockAdjustment, error) {
	for _, line := range lines {
		if _, ok := catalog[line.ProductID]; !ok {
			return nil, nil, fmt.Errorf("%w: %s", domain.ErrCatalogInconsistent, line.ProductID)
		}
	}

	items := make([]domain.OrderItem, 0, len(lines))
	adjustments := make([]domain.StockAdjustment, 0, len(lines))
	remaining := make(map[string]int32, len(catalog))

	for _, line := range lines {
		product := catalog[line.ProductID]
		available, ok := remaining[product.ID]
		if !ok {
			available = product.Quantity
		}
		if line.Qty > available {
			return nil, nil, domain.NewClientError(&domain.InsufficientStockError{
				ProductID: product.ID,
				Requested: line.Qty,
				Available: available,
			}, domain.DefaultClientErrorStatus)
		}

		remaining[product.ID] = available - line.Qty
		adjustments = append(adjustments, domain.StockAdjustment{
			ProductID: product.ID,
			Quantity:  available - line.Qty,
			Expected:  available,
		})
		items = append(items, domain.OrderItem{
			ProductID: product.ID,
			Qty:       line.Qty,
			Price:     product.Price,
		})
	}

	return items, adjustments, nil
}

func missingIDs(ids []string, catalog map[string]domain.Product) []string {
	var missing []string
	for _, id := range ids {
		if _, ok := catalog[id]; !ok {
			missing = append(missing, id)
		}
	}
	return missing
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrCustomerNotFound):
		return metrics.ReasonCustomerNotFound
	case errors.Is(err, domain.ErrProductNotFound):
		return metrics.ReasonProductNotFound
	case errors.Is(err, domain.ErrInsufficientStock):
		return metrics.ReasonInsufficientStock
	case errors.Is(err, domain.ErrCatalogInconsistent):
		return metrics.ReasonCatalogInconsistent
	case errors.Is(err, domain.ErrStockConflict):
		return metrics.ReasonStockConflict
	case domain.IsClientError(err):
		return metrics.ReasonInvalidRequest
	default:
		return metrics.ReasonStorage
	}
}
