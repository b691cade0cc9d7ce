package notification

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/category"
	"github.com/Sviatoslav593/AntiBlackout-sub002/internal/order"
)

type Dispatcher struct {
	sender     Sender
	outbox     OutboxRepository
	categories category.Repository
	from       string
	owner      string
}

func NewDispatcher(sender Sender, outbox OutboxRepository, categories category.Repository, from, owner string) *Dispatcher {
	return &Dispatcher{
		sender:     sender,
		outbox:     outbox,
		categories: categories,
		from:       from,
		owner:      owner,
	}
}

// OrderConfirmed sends the customer confirmation and the store-owner copy.
// Errors are aggregated and returned for logging only; callers must not fail
// the order flow on them.
func (d *Dispatcher) OrderConfirmed(ctx context.Context, o *order.Order) error {
	labels := d.categoryLabels(ctx)

	var errs []error

	customer := Email{
		From:    d.from,
		To:      []string{o.CustomerEmail},
		Subject: fmt.Sprintf("Your order %s is confirmed", o.ID),
		HTML:    customerHTML(o, labels),
		Text:    orderText(o, labels),
	}
	if err := d.deliver(ctx, o.ID, o.CustomerEmail, KindCustomerConfirmation, customer); err != nil {
		errs = append(errs, err)
	}

	ownerCopy := Email{
		From:    d.from,
		To:      []string{d.owner},
		Subject: fmt.Sprintf("New order %s (%s)", o.ID, o.CustomerName),
		HTML:    ownerHTML(o, labels),
		Text:    orderText(o, labels),
	}
	if err := d.deliver(ctx, o.ID, d.owner, KindOwnerNotification, ownerCopy); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (d *Dispatcher) deliver(ctx context.Context, orderID, recipient, kind string, msg Email) error {
	outboxID, err := d.outbox.Enqueue(ctx, orderID, recipient, kind)
	if err != nil {
		// Without an outbox row the attempt is unrecorded but delivery
		// is still worth trying.
		log.Error().Err(err).Str("order_id", orderID).Str("kind", kind).Msg("notification: failed to enqueue outbox record")
		outboxID = uuid.Nil
	}

	if sendErr := d.sender.Send(ctx, msg); sendErr != nil {
		if outboxID != uuid.Nil {
			if markErr := d.outbox.MarkFailed(ctx, outboxID, sendErr); markErr != nil {
				log.Error().Err(markErr).Str("order_id", orderID).Msg("notification: failed to mark outbox record failed")
			}
		}
		return fmt.Errorf("notification: %s email for order %s failed: %w", kind, orderID, sendErr)
	}

	if outboxID != uuid.Nil {
		if markErr := d.outbox.MarkSent(ctx, outboxID); markErr != nil {
			log.Error().Err(markErr).Str("order_id", orderID).Msg("notification: failed to mark outbox record sent")
		}
	}

	log.Info().Str("order_id", orderID).Str("kind", kind).Str("recipient", recipient).Msg("notification: email sent")
	return nil
}

func (d *Dispatcher) categoryLabels(ctx context.Context) map[string]string {
	if d.categories == nil {
		return nil
	}
	all, err := d.categories.GetAll(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("notification: failed to load category labels, items will be unlabeled")
		return nil
	}
	return category.DisplayNames(all)
}

func itemLabel(item order.Item, labels map[string]string) string {
	if name, ok := labels[item.Category]; ok && name != "" {
		return fmt.Sprintf("%s (%s)", item.ProductName, name)
	}
	return item.ProductName
}

func customerHTML(o *order.Order, labels map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>Thank you for your order, %s!</h1>", html.EscapeString(o.CustomerName))
	fmt.Fprintf(&b, "<p>Order <strong>%s</strong> has been received.</p>", html.EscapeString(o.ID))
	writeItemsTable(&b, o, labels)
	if o.City != "" {
		fmt.Fprintf(&b, "<p>Delivery: %s, %s</p>", html.EscapeString(o.City), html.EscapeString(o.Branch))
	}
	return b.String()
}

func ownerHTML(o *order.Order, labels map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<h1>New order %s</h1>", html.EscapeString(o.ID))
	fmt.Fprintf(&b, "<p>%s &lt;%s&gt;, phone: %s</p>",
		html.EscapeString(o.CustomerName), html.EscapeString(o.CustomerEmail), html.EscapeString(o.CustomerPhone))
	fmt.Fprintf(&b, "<p>Payment: %s (%s)</p>", o.PaymentMethod, o.PaymentStatus)
	writeItemsTable(&b, o, labels)
	if o.City != "" {
		fmt.Fprintf(&b, "<p>Delivery: %s, %s</p>", html.EscapeString(o.City), html.EscapeString(o.Branch))
	}
	return b.String()
}

func writeItemsTable(b *strings.Builder, o *order.Order, labels map[string]string) {
	b.WriteString("<table><tr><th>Item</th><th>Qty</th><th>Price</th><th>Subtotal</th></tr>")
	for _, item := range o.Items {
		fmt.Fprintf(b, "<tr><td>%s</td><td>%d</td><td>%.2f</td><td>%.2f</td></tr>",
			html.EscapeString(itemLabel(item, labels)), item.Quantity, item.UnitPrice, item.Subtotal())
	}
	fmt.Fprintf(b, "</table><p><strong>Total: %.2f UAH</strong></p>", o.TotalAmount)
}

func orderText(o *order.Order, labels map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Order %s\n", o.ID)
	fmt.Fprintf(&b, "Customer: %s <%s>\n\n", o.CustomerName, o.CustomerEmail)
	for _, item := range o.Items {
		fmt.Fprintf(&b, "- %s x%d @ %.2f = %.2f\n", itemLabel(item, labels), item.Quantity, item.UnitPrice, item.Subtotal())
	}
	fmt.Fprintf(&b, "\nTotal: %.2f UAH\n", o.TotalAmount)
	return b.String()
}
