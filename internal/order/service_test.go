package order_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
)

type mockRepository struct {
	createFunc       func(ctx context.Context, o *order.Order) error
	getByIDFunc      func(ctx context.Context, id string) (*order.Order, error)
	updateStatusFunc func(ctx context.Context, id string, st order.Status, ps order.PaymentStatus) error
}

func (m *mockRepository) Create(ctx context.Context, o *order.Order) error {
	return m.createFunc(ctx, o)
}

func (m *mockRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockRepository) GetByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return nil, nil
}

func (m *mockRepository) GetAll(ctx context.Context) ([]order.Order, error) {
	return nil, nil
}

func (m *mockRepository) UpdateStatus(ctx context.Context, id string, st order.Status, ps order.PaymentStatus) error {
	return m.updateStatusFunc(ctx, id, st, ps)
}

func (m *mockRepository) MarkPaid(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (m *mockRepository) MarkFailed(ctx context.Context, id string) (bool, error) {
	return false, nil
}

func (m *mockRepository) Stats(ctx context.Context) ([]order.StatusCount, error) {
	return nil, nil
}

func validOrder() *order.Order {
	return &order.Order{
		ID:            "AB-123",
		CustomerName:  "Olena Kovalenko",
		CustomerEmail: "olena@example.com",
		PaymentMethod: order.MethodOnline,
		TotalAmount:   300,
		Items: []order.Item{
			{ProductID: "p-1", ProductName: "Power bank", Quantity: 2, UnitPrice: 100},
			{ProductID: "p-2", ProductName: "Lantern", Quantity: 1, UnitPrice: 100},
		},
	}
}

func TestService_CreateOrder(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(o *order.Order)
		createFunc func(ctx context.Context, o *order.Order) error
		wantErrIs  error
		wantErr    bool
	}{
		{
			name:    "success",
			mutate:  func(o *order.Order) {},
			wantErr: false,
		},
		{
			name:      "no_items",
			mutate:    func(o *order.Order) { o.Items = nil },
			wantErrIs: order.ErrEmptyOrder,
			wantErr:   true,
		},
		{
			name:      "total_mismatch",
			mutate:    func(o *order.Order) { o.TotalAmount = 500 },
			wantErrIs: order.ErrTotalMismatch,
			wantErr:   true,
		},
		{
			name:    "zero_quantity",
			mutate:  func(o *order.Order) { o.Items[0].Quantity = 0 },
			wantErr: true,
		},
		{
			name:    "negative_price",
			mutate:  func(o *order.Order) { o.Items[0].UnitPrice = -1 },
			wantErr: true,
		},
		{
			name:    "missing_customer_email",
			mutate:  func(o *order.Order) { o.CustomerEmail = "" },
			wantErr: true,
		},
		{
			name:   "duplicate_id",
			mutate: func(o *order.Order) {},
			createFunc: func(ctx context.Context, o *order.Order) error {
				return order.ErrDuplicateOrderID
			},
			wantErrIs: order.ErrDuplicateOrderID,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			createFunc := tt.createFunc
			if createFunc == nil {
				createFunc = func(ctx context.Context, o *order.Order) error { return nil }
			}
			svc := order.NewService(&mockRepository{createFunc: createFunc})

			o := validOrder()
			tt.mutate(o)

			err := svc.CreateOrder(context.Background(), o)
			if tt.wantErr {
				assert.Error(t, err)
				if tt.wantErrIs != nil {
					assert.ErrorIs(t, err, tt.wantErrIs)
				}
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_CreateOrder_DefaultsStatuses(t *testing.T) {
	var created *order.Order
	svc := order.NewService(&mockRepository{
		createFunc: func(ctx context.Context, o *order.Order) error {
			created = o
			return nil
		},
	})

	o := validOrder()
	err := svc.CreateOrder(context.Background(), o)
	assert.NoError(t, err)
	assert.Equal(t, order.StatusPending, created.Status)
	assert.Equal(t, order.PaymentPending, created.PaymentStatus)
}

func TestService_UpdateStatus_Transitions(t *testing.T) {
	tests := []struct {
		name    string
		current order.Status
		next    order.Status
		wantErr bool
	}{
		{"pending_payment_to_paid", order.StatusPendingPayment, order.StatusPaid, false},
		{"paid_to_confirmed", order.StatusPaid, order.StatusConfirmed, false},
		{"pending_to_confirmed", order.StatusPending, order.StatusConfirmed, false},
		{"confirmed_to_shipped", order.StatusConfirmed, order.StatusShipped, false},
		{"shipped_to_delivered", order.StatusShipped, order.StatusDelivered, false},
		{"paid_back_to_pending_payment", order.StatusPaid, order.StatusPendingPayment, true},
		{"delivered_to_shipped", order.StatusDelivered, order.StatusShipped, true},
		{"cancelled_to_confirmed", order.StatusCancelled, order.StatusConfirmed, true},
		{"pending_payment_to_delivered", order.StatusPendingPayment, order.StatusDelivered, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := &mockRepository{
				getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
					return &order.Order{ID: id, Status: tt.current, PaymentStatus: order.PaymentPending}, nil
				},
				updateStatusFunc: func(ctx context.Context, id string, st order.Status, ps order.PaymentStatus) error {
					return nil
				},
			}
			svc := order.NewService(repo)

			err := svc.UpdateStatus(context.Background(), "AB-123", tt.next)
			if tt.wantErr {
				assert.ErrorIs(t, err, order.ErrInvalidStatusTransition)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_UpdateStatus_SameStatusIsNoop(t *testing.T) {
	updated := false
	repo := &mockRepository{
		getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
			return &order.Order{ID: id, Status: order.StatusPaid}, nil
		},
		updateStatusFunc: func(ctx context.Context, id string, st order.Status, ps order.PaymentStatus) error {
			updated = true
			return nil
		},
	}
	svc := order.NewService(repo)

	err := svc.UpdateStatus(context.Background(), "AB-123", order.StatusPaid)
	assert.NoError(t, err)
	assert.False(t, updated)
}

func TestService_UpdateStatus_NotFound(t *testing.T) {
	repo := &mockRepository{
		getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
			return nil, order.ErrOrderNotFound
		},
	}
	svc := order.NewService(repo)

	err := svc.UpdateStatus(context.Background(), "missing", order.StatusConfirmed)
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_GetOrderByID_NotFound(t *testing.T) {
	repo := &mockRepository{
		getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
			return nil, order.ErrOrderNotFound
		},
	}
	svc := order.NewService(repo)

	_, err := svc.GetOrderByID(context.Background(), "missing")
	assert.ErrorIs(t, err, order.ErrOrderNotFound)
}

func TestService_GetOrderByID_WrapsRepositoryError(t *testing.T) {
	repoErr := errors.New("connection reset")
	repo := &mockRepository{
		getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
			return nil, repoErr
		},
	}
	svc := order.NewService(repo)

	_, err := svc.GetOrderByID(context.Background(), "AB-123")
	assert.ErrorIs(t, err, repoErr)
}
