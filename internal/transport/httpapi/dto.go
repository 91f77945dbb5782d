package httpapi

import (
	"time"

	"github.com/vladislavdragonenkov/orderflow/internal/domain"
)

type createOrderRequest struct {
	CustomerID string        `json:"customer_id"`
	Products   []lineRequest `json:"products"`
}

type lineRequest struct {
	ID       string `json:"id"`
	Quantity int32  `json:"quantity"`
}

func (r createOrderRequest) lines() []domain.OrderLineRequest {
	lines := make([]domain.OrderLineRequest, 0, len(r.Products))
	for _, p := range r.Products {
		lines = append(lines, domain.OrderLineRequest{ProductID: p.ID, Qty: p.Quantity})
	}
	return lines
}

type orderItemResponse struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Quantity  int32  `json:"quantity"`
	Price     string `json:"price"`
	Subtotal  string `json:"subtotal"`
}

type orderResponse struct {
	ID         string              `json:"id"`
	CustomerID string              `json:"customer_id"`
	Items      []orderItemResponse `json:"items"`
	Total      string              `json:"total"`
	CreatedAt  time.Time           `json:"created_at"`
}

type orderListResponse struct {
	Orders []orderResponse `json:"orders"`
}

type errorResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func newErrorResponse(message string) errorResponse {
	return errorResponse{Status: "error", Message: message}
}

// Суммы отдаются строкой с двумя знаками, чтобы клиент не терял точность.
func toOrderResponse(order domain.Order) orderResponse {
	items := make([]orderItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Qty,
			Price:     domain.FormatMoney(item.Price),
			Subtotal:  domain.FormatMoney(item.Subtotal()),
		})
	}
	return orderResponse{
		ID:         order.ID,
		CustomerID: order.CustomerID,
		Items:      items,
		Total:      domain.FormatMoney(order.Total()),
		CreatedAt:  order.CreatedAt.UTC(),
	}
}
