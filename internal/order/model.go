package order

import (
	"time"

	"github.com/gofrs/uuid"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPaid           Status = "paid"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusShipped        Status = "shipped"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

func (s Status) String() string {
	return string(s)
}

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentSuccess PaymentStatus = "success"
	PaymentFailed  PaymentStatus = "failed"
)

func (s PaymentStatus) String() string {
	return string(s)
}

type PaymentMethod string

const (
	MethodOnline         PaymentMethod = "online"
	MethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

type Item struct {
	ID           uuid.UUID `json:"id"`
	OrderID      string    `json:"order_id"`
	ProductID    string    `json:"product_id"`
	ProductName  string    `json:"product_name"`
	ProductImage string    `json:"product_image,omitempty"`
	Category     string    `json:"category,omitempty"`
	Quantity     int       `json:"quantity"`
	UnitPrice    float64   `json:"unit_price"`
	CreatedAt    time.Time `json:"created_at"`
}

// Subtotal is the line total at purchase-time price.
func (i Item) Subtotal() float64 {
	return float64(i.Quantity) * i.UnitPrice
}

type Order struct {
	ID            string        `json:"id"`
	CustomerName  string        `json:"customer_name"`
	CustomerEmail string        `json:"customer_email"`
	CustomerPhone string        `json:"customer_phone,omitempty"`
	City          string        `json:"city,omitempty"`
	Branch        string        `json:"branch,omitempty"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	Items         []Item        `json:"items"`
	TotalAmount   float64       `json:"total_amount"`
	Status        Status        `json:"status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// StatusCount is one row of the admin status aggregate.
type StatusCount struct {
	Status Status `json:"status"`
	Count  int64  `json:"count"`
}
