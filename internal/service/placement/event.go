package placement

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

// OrderPlacedEvent — payload события OrderPlaced в outbox.
type OrderPlacedEvent struct {
	OrderID    string             `json:"order_id"`
	CustomerID string             `json:"customer_id"`
	Items      []OrderPlacedItem  `json:"items"`
	Total      string             `json:"total"`
	Stock      []OrderPlacedStock `json:"stock"`
	PlacedAt   time.Time          `json:"placed_at"`
}

// OrderPlacedItem — позиция заказа с ценой на момент оформления.
type OrderPlacedItem struct {
	ProductID string `json:"product_id"`
	Qty       int32  `json:"quantity"`
	Price     string `json:"price"`
}

// OrderPlacedStock — новый остаток товара после оформления.
type OrderPlacedStock struct {
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
}

func newOrderPlacedMessage(order domain.Order, adjustments []domain.StockAdjustment) (domain.OutboxMessage, error) {
	event := OrderPlacedEvent{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Items:      make([]OrderPlacedItem, 0, len(order.Items)),
		Total:      domain.FormatMoney(order.Total()),
		Stock:      make([]OrderPlacedStock, 0, len(adjustments)),
		PlacedAt:   order.CreatedAt,
	}
	for _, item := range order.Items {
		event.Items = append(event.Items, OrderPlacedItem{
			ProductID: item.ProductID,
			Qty:       item.Qty,
			Price:     domain.FormatMoney(item.Price),
		})
	}
	for _, adj := range adjustments {
		event.Stock = append(event.Stock, OrderPlacedStock{ProductID: adj.ProductID, Quantity: adj.Quantity})
	}

	data, err := json.Marshal(event)
	if err != nil {
		return domain.OutboxMessage{}, fmt.Errorf("marshal %s: %w", domain.EventTypeOrderPlaced, err)
	}
	return domain.OutboxMessage{
		AggregateType: domain.AggregateTypeOrder,
		AggregateID:   order.ID,
		EventType:     domain.EventTypeOrderPlaced,
		Payload:       data,
	}, nil
}
