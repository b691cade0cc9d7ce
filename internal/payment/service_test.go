package payment_test

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/liqpay"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/payment"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/pending"
)

type mockOrderService struct {
	createFunc  func(ctx context.Context, o *order.Order) error
	getByIDFunc func(ctx context.Context, id string) (*order.Order, error)
}

func (m *mockOrderService) CreateOrder(ctx context.Context, o *order.Order) error {
	return m.createFunc(ctx, o)
}

func (m *mockOrderService) GetOrderByID(ctx context.Context, id string) (*order.Order, error) {
	return m.getByIDFunc(ctx, id)
}

func (m *mockOrderService) GetOrdersByStatus(ctx context.Context, status order.Status) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderService) GetAllOrders(ctx context.Context) ([]order.Order, error) {
	return nil, nil
}

func (m *mockOrderService) UpdateStatus(ctx context.Context, id string, newStatus order.Status) error {
	return nil
}

func (m *mockOrderService) Stats(ctx context.Context) ([]order.StatusCount, error) {
	return nil, nil
}

type mockTransitions struct {
	markPaidFunc   func(ctx context.Context, id string) (bool, error)
	markFailedFunc func(ctx context.Context, id string) (bool, error)
}

func (m *mockTransitions) MarkPaid(ctx context.Context, id string) (bool, error) {
	return m.markPaidFunc(ctx, id)
}

func (m *mockTransitions) MarkFailed(ctx context.Context, id string) (bool, error) {
	return m.markFailedFunc(ctx, id)
}

type mockPendingRepo struct {
	putFunc     func(ctx context.Context, po *pending.PendingOrder) error
	getFunc     func(ctx context.Context, orderID string) (*pending.PendingOrder, error)
	consumeFunc func(ctx context.Context, orderID string) (*pending.PendingOrder, error)
}

func (m *mockPendingRepo) Put(ctx context.Context, po *pending.PendingOrder) error {
	return m.putFunc(ctx, po)
}

func (m *mockPendingRepo) Get(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
	return m.getFunc(ctx, orderID)
}

func (m *mockPendingRepo) Consume(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
	return m.consumeFunc(ctx, orderID)
}

type mockCartEvents struct {
	recorded []string
}

func (m *mockCartEvents) Record(ctx context.Context, orderID string) error {
	m.recorded = append(m.recorded, orderID)
	return nil
}

type mockNotifier struct {
	confirmed []string
}

func (m *mockNotifier) OrderConfirmed(ctx context.Context, o *order.Order) error {
	m.confirmed = append(m.confirmed, o.ID)
	return nil
}

func testGateway(t *testing.T) *liqpay.Client {
	t.Helper()
	client, err := liqpay.NewClient("sandbox_public", "sandbox_private", "https://shop.example.com", true)
	require.NoError(t, err)
	return client
}

func signedCallback(t *testing.T, gateway *liqpay.Client, orderID, status string) (string, string) {
	t.Helper()
	raw := fmt.Sprintf(`{"order_id":%q,"status":%q,"amount":300,"currency":"UAH","transaction_id":42,"payment_id":77}`, orderID, status)
	data := base64.StdEncoding.EncodeToString([]byte(raw))
	return data, gateway.Sign(data)
}

func snapshot(orderID string) *pending.PendingOrder {
	return &pending.PendingOrder{
		OrderID: orderID,
		Customer: pending.Customer{
			Name:  "Olena Kovalenko",
			Email: "olena@example.com",
			City:  "Kyiv",
		},
		Items: []pending.ItemSnapshot{
			{ProductID: "p-1", ProductName: "Power bank", Quantity: 2, UnitPrice: 100},
			{ProductID: "p-2", ProductName: "Lantern", Quantity: 1, UnitPrice: 100},
		},
		TotalAmount:   300,
		PaymentMethod: order.MethodOnline,
	}
}

// fixture wires a service around an in-memory order/pending state to let the
// same instance absorb sequential callbacks the way the real stores would.
type fixture struct {
	svc       *payment.Service
	orders    map[string]*order.Order
	pendings  map[string]*pending.PendingOrder
	creates   int
	createErr error
	cart      *mockCartEvents
	notifier  *mockNotifier
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		orders:   make(map[string]*order.Order),
		pendings: make(map[string]*pending.PendingOrder),
		cart:     &mockCartEvents{},
		notifier: &mockNotifier{},
	}

	orderSvc := &mockOrderService{
		createFunc: func(ctx context.Context, o *order.Order) error {
			if f.createErr != nil {
				err := f.createErr
				f.createErr = nil
				return err
			}
			if _, ok := f.orders[o.ID]; ok {
				return order.ErrDuplicateOrderID
			}
			f.orders[o.ID] = o
			f.creates++
			return nil
		},
		getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
			o, ok := f.orders[id]
			if !ok {
				return nil, order.ErrOrderNotFound
			}
			copied := *o
			return &copied, nil
		},
	}

	transitions := &mockTransitions{
		markPaidFunc: func(ctx context.Context, id string) (bool, error) {
			o, ok := f.orders[id]
			if !ok || o.PaymentStatus == order.PaymentSuccess {
				return false, nil
			}
			o.Status = order.StatusPaid
			o.PaymentStatus = order.PaymentSuccess
			return true, nil
		},
		markFailedFunc: func(ctx context.Context, id string) (bool, error) {
			o, ok := f.orders[id]
			if !ok || o.PaymentStatus == order.PaymentSuccess {
				return false, nil
			}
			o.PaymentStatus = order.PaymentFailed
			return true, nil
		},
	}

	pendingRepo := &mockPendingRepo{
		putFunc: func(ctx context.Context, po *pending.PendingOrder) error {
			f.pendings[po.OrderID] = po
			return nil
		},
		getFunc: func(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
			po, ok := f.pendings[orderID]
			if !ok {
				return nil, pending.ErrPendingNotFound
			}
			return po, nil
		},
		consumeFunc: func(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
			po, ok := f.pendings[orderID]
			if !ok {
				return nil, pending.ErrPendingNotFound
			}
			delete(f.pendings, orderID)
			return po, nil
		},
	}

	f.svc = payment.NewService(testGateway(t), orderSvc, transitions, pendingRepo, f.cart, f.notifier)
	return f
}

func TestHandleCallback_SuccessMaterializesOrder(t *testing.T) {
	f := newFixture(t)
	f.pendings["AB-123"] = snapshot("AB-123")

	data, signature := signedCallback(t, testGateway(t), "AB-123", "success")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, result.OrderCreated)

	created := f.orders["AB-123"]
	require.NotNil(t, created)
	assert.Equal(t, order.StatusPaid, created.Status)
	assert.Equal(t, order.PaymentSuccess, created.PaymentStatus)
	assert.Equal(t, "olena@example.com", created.CustomerEmail)
	assert.Len(t, created.Items, 2)

	assert.Equal(t, []string{"AB-123"}, f.cart.recorded)
	assert.Equal(t, []string{"AB-123"}, f.notifier.confirmed)
	assert.Empty(t, f.pendings, "pending snapshot must be consumed")
}

func TestHandleCallback_DuplicateSuccessIsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.pendings["AB-123"] = snapshot("AB-123")

	data, signature := signedCallback(t, testGateway(t), "AB-123", "success")

	first, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, first.OrderCreated)

	second, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err, "duplicate callback must still be acknowledged")
	assert.False(t, second.OrderCreated)
	assert.True(t, second.Duplicate)

	assert.Equal(t, 1, f.creates, "exactly one order row")
	assert.Len(t, f.notifier.confirmed, 1, "at most one confirmation email")
}

func TestHandleCallback_TamperedSignatureChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.pendings["AB-123"] = snapshot("AB-123")

	data, _ := signedCallback(t, testGateway(t), "AB-123", "success")

	_, err := f.svc.HandleCallback(context.Background(), data, "Zm9yZ2VkIHNpZ25hdHVyZQ==")
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)

	assert.Empty(t, f.orders, "no order may be created")
	assert.Len(t, f.pendings, 1, "pending snapshot must remain")
	assert.Empty(t, f.notifier.confirmed)
	assert.Empty(t, f.cart.recorded)
}

func TestHandleCallback_TamperedDataChangesNothing(t *testing.T) {
	f := newFixture(t)
	f.pendings["AB-123"] = snapshot("AB-123")

	_, signature := signedCallback(t, testGateway(t), "AB-123", "success")
	forged := base64.StdEncoding.EncodeToString([]byte(`{"order_id":"AB-123","status":"success","amount":1}`))

	_, err := f.svc.HandleCallback(context.Background(), forged, signature)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	assert.Empty(t, f.orders)
}

func TestHandleCallback_MissingFields(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.HandleCallback(context.Background(), "", "")
	assert.ErrorIs(t, err, payment.ErrMissingFields)
}

func TestHandleCallback_MissingOrderID(t *testing.T) {
	f := newFixture(t)
	gateway := testGateway(t)

	data := base64.StdEncoding.EncodeToString([]byte(`{"status":"success","amount":300}`))

	_, err := f.svc.HandleCallback(context.Background(), data, gateway.Sign(data))
	assert.ErrorIs(t, err, payment.ErrMissingOrderID)
}

func TestHandleCallback_SuccessWithoutPendingIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	data, signature := signedCallback(t, testGateway(t), "unknown-1", "success")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.False(t, result.OrderCreated)
	assert.Empty(t, f.orders)
}

func TestHandleCallback_SuccessUpdatesExistingOrder(t *testing.T) {
	f := newFixture(t)
	f.orders["AB-200"] = &order.Order{
		ID:            "AB-200",
		CustomerEmail: "olena@example.com",
		Status:        order.StatusPendingPayment,
		PaymentStatus: order.PaymentPending,
	}

	data, signature := signedCallback(t, testGateway(t), "AB-200", "success")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, result.OrderUpdated)
	assert.Equal(t, order.StatusPaid, f.orders["AB-200"].Status)
	assert.Equal(t, []string{"AB-200"}, f.notifier.confirmed)

	// Replayed callback performs no second transition and sends no email.
	again, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, again.Duplicate)
	assert.Len(t, f.notifier.confirmed, 1)
}

func TestHandleCallback_FailureMarksOrderFailed(t *testing.T) {
	f := newFixture(t)
	f.orders["AB-300"] = &order.Order{
		ID:            "AB-300",
		Status:        order.StatusPendingPayment,
		PaymentStatus: order.PaymentPending,
	}

	data, signature := signedCallback(t, testGateway(t), "AB-300", "failure")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, result.OrderUpdated)
	assert.Equal(t, order.PaymentFailed, f.orders["AB-300"].PaymentStatus)
	assert.Empty(t, f.notifier.confirmed)
}

func TestHandleCallback_ReplayAfterAdminAdvanceSendsNoEmail(t *testing.T) {
	f := newFixture(t)
	f.orders["AB-350"] = &order.Order{
		ID:            "AB-350",
		CustomerEmail: "olena@example.com",
		Status:        order.StatusConfirmed,
		PaymentStatus: order.PaymentSuccess,
	}

	data, signature := signedCallback(t, testGateway(t), "AB-350", "success")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, result.Duplicate)
	assert.Equal(t, order.StatusConfirmed, f.orders["AB-350"].Status, "admin-set status must not regress to paid")
	assert.Empty(t, f.notifier.confirmed, "replay must not resend the confirmation email")
}

func TestHandleCallback_FailureAfterAdminAdvanceKeepsSuccess(t *testing.T) {
	f := newFixture(t)
	f.orders["AB-360"] = &order.Order{
		ID:            "AB-360",
		Status:        order.StatusConfirmed,
		PaymentStatus: order.PaymentSuccess,
	}

	data, signature := signedCallback(t, testGateway(t), "AB-360", "failure")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.False(t, result.OrderUpdated)
	assert.Equal(t, order.PaymentSuccess, f.orders["AB-360"].PaymentStatus)
}

func TestHandleCallback_SandboxStatusRejectedOutsideSandboxMode(t *testing.T) {
	prodGateway, err := liqpay.NewClient("public", "private", "https://shop.example.com", false)
	require.NoError(t, err)

	pendings := map[string]*pending.PendingOrder{"AB-370": snapshot("AB-370")}
	notifier := &mockNotifier{}
	svc := payment.NewService(prodGateway,
		&mockOrderService{
			createFunc: func(ctx context.Context, o *order.Order) error {
				t.Fatal("a sandbox callback must not create a production order")
				return nil
			},
			getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
				return nil, order.ErrOrderNotFound
			},
		},
		&mockTransitions{
			markPaidFunc:   func(ctx context.Context, id string) (bool, error) { return false, nil },
			markFailedFunc: func(ctx context.Context, id string) (bool, error) { return false, nil },
		},
		&mockPendingRepo{
			getFunc: func(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
				return pendings[orderID], nil
			},
			consumeFunc: func(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
				return nil, pending.ErrPendingNotFound
			},
		},
		&mockCartEvents{}, notifier)

	data, signature := signedCallback(t, prodGateway, "AB-370", "sandbox")

	result, err := svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.False(t, result.OrderCreated)
	assert.Empty(t, notifier.confirmed)
}

func TestHandleCallback_FailureNeverDowngradesPaidOrder(t *testing.T) {
	f := newFixture(t)
	f.orders["AB-400"] = &order.Order{
		ID:            "AB-400",
		Status:        order.StatusPaid,
		PaymentStatus: order.PaymentSuccess,
	}

	data, signature := signedCallback(t, testGateway(t), "AB-400", "failure")

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.False(t, result.OrderUpdated)
	assert.Equal(t, order.StatusPaid, f.orders["AB-400"].Status)
	assert.Equal(t, order.PaymentSuccess, f.orders["AB-400"].PaymentStatus)
}

func TestHandleCallback_PersistenceFailurePropagates(t *testing.T) {
	repoErr := errors.New("connection refused")
	gateway := testGateway(t)

	orderSvc := &mockOrderService{
		createFunc: func(ctx context.Context, o *order.Order) error { return repoErr },
		getByIDFunc: func(ctx context.Context, id string) (*order.Order, error) {
			return nil, order.ErrOrderNotFound
		},
	}
	pendingRepo := &mockPendingRepo{
		getFunc: func(ctx context.Context, orderID string) (*pending.PendingOrder, error) {
			return snapshot(orderID), nil
		},
	}
	svc := payment.NewService(gateway, orderSvc, &mockTransitions{}, pendingRepo, &mockCartEvents{}, &mockNotifier{})

	data, signature := signedCallback(t, gateway, "AB-500", "success")

	_, err := svc.HandleCallback(context.Background(), data, signature)
	assert.ErrorIs(t, err, repoErr)
}

func TestHandleCallback_TransientCreateFailureThenRetrySucceeds(t *testing.T) {
	f := newFixture(t)
	f.pendings["AB-123"] = snapshot("AB-123")
	f.createErr = errors.New("connection refused")

	data, signature := signedCallback(t, testGateway(t), "AB-123", "success")

	_, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.Error(t, err, "transient insert failure must be surfaced so the provider retries")
	require.Len(t, f.pendings, 1, "snapshot must survive a failed insert")
	assert.Empty(t, f.notifier.confirmed)

	result, err := f.svc.HandleCallback(context.Background(), data, signature)
	require.NoError(t, err)
	assert.True(t, result.OrderCreated, "retry must materialize the order")

	created := f.orders["AB-123"]
	require.NotNil(t, created)
	assert.Equal(t, order.StatusPaid, created.Status)
	assert.Len(t, f.notifier.confirmed, 1, "exactly one confirmation email")
	assert.Empty(t, f.pendings, "snapshot is cleared once the order exists")
}

func TestCreateSession_StagesPendingOrder(t *testing.T) {
	f := newFixture(t)
	gateway := testGateway(t)

	checkout, err := f.svc.CreateSession(context.Background(), payment.SessionRequest{
		Amount:      300,
		Description: "Order AB-123",
		OrderID:     "AB-123",
		Customer:    &pending.Customer{Name: "Olena Kovalenko", Email: "olena@example.com"},
		Items:       snapshot("AB-123").Items,
	})
	require.NoError(t, err)
	assert.Equal(t, "AB-123", checkout.OrderID)
	assert.True(t, gateway.Verify(checkout.Data, checkout.Signature))

	staged, ok := f.pendings["AB-123"]
	require.True(t, ok, "pending order must be staged")
	assert.Equal(t, 300.0, staged.TotalAmount)
	assert.Equal(t, order.MethodOnline, staged.PaymentMethod)
}

func TestCreateSession_ValidationErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateSession(context.Background(), payment.SessionRequest{
		Description: "no amount",
		OrderID:     "AB-1",
	})
	assert.ErrorIs(t, err, liqpay.ErrMissingAmount)

	_, err = f.svc.CreateSession(context.Background(), payment.SessionRequest{
		Amount:      10,
		Description: "no order id",
	})
	assert.ErrorIs(t, err, liqpay.ErrMissingOrderID)
}

func TestCreateOrderAfterPayment_CashOnDelivery(t *testing.T) {
	f := newFixture(t)

	orderID, err := f.svc.CreateOrderAfterPayment(context.Background(), payment.CreateOrderRequest{
		OrderID:       "AB-700",
		Customer:      pending.Customer{Name: "Olena Kovalenko", Email: "olena@example.com"},
		Items:         snapshot("AB-700").Items,
		Total:         300,
		PaymentMethod: order.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	assert.Equal(t, "AB-700", orderID)

	created := f.orders["AB-700"]
	require.NotNil(t, created)
	assert.Equal(t, order.StatusPending, created.Status)
	assert.Equal(t, order.PaymentPending, created.PaymentStatus)
	assert.Equal(t, order.MethodCashOnDelivery, created.PaymentMethod)

	assert.Equal(t, []string{"AB-700"}, f.cart.recorded)
	assert.Equal(t, []string{"AB-700"}, f.notifier.confirmed)
}

func TestCreateOrderAfterPayment_GeneratesOrderID(t *testing.T) {
	f := newFixture(t)

	orderID, err := f.svc.CreateOrderAfterPayment(context.Background(), payment.CreateOrderRequest{
		Customer:      pending.Customer{Name: "Olena Kovalenko", Email: "olena@example.com"},
		Items:         snapshot("generated").Items,
		Total:         300,
		PaymentMethod: order.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, orderID)
	assert.Contains(t, f.orders, orderID)
}

func TestCreateOrderAfterPayment_DuplicateIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.orders["AB-800"] = &order.Order{ID: "AB-800", Status: order.StatusPending}

	orderID, err := f.svc.CreateOrderAfterPayment(context.Background(), payment.CreateOrderRequest{
		OrderID:       "AB-800",
		Customer:      pending.Customer{Name: "Olena Kovalenko", Email: "olena@example.com"},
		Items:         snapshot("AB-800").Items,
		Total:         300,
		PaymentMethod: order.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	assert.Equal(t, "AB-800", orderID)
	assert.Equal(t, 0, f.creates)
	assert.Empty(t, f.notifier.confirmed, "duplicate create must not resend email")
}

func TestCreateOrderAfterPayment_ConsumesStalePending(t *testing.T) {
	f := newFixture(t)
	f.pendings["AB-900"] = snapshot("AB-900")

	_, err := f.svc.CreateOrderAfterPayment(context.Background(), payment.CreateOrderRequest{
		OrderID:       "AB-900",
		Customer:      pending.Customer{Name: "Olena Kovalenko", Email: "olena@example.com"},
		Items:         snapshot("AB-900").Items,
		Total:         300,
		PaymentMethod: order.MethodCashOnDelivery,
	})
	require.NoError(t, err)
	assert.Empty(t, f.pendings, "stale pending snapshot must be cleared")
}
