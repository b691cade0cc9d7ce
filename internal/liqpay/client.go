// Package liqpay implements the subset of the LiqPay checkout protocol the
// storefront needs: building signed payment sessions and verifying the
// signature on asynchronous server callbacks.
package liqpay

import (
	"crypto/sha1"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const protocolVersion = 3

var (
	ErrMissingKeys        = errors.New("liqpay: public and private keys are required")
	ErrMissingAmount      = errors.New("liqpay: amount must be greater than zero")
	ErrMissingOrderID     = errors.New("liqpay: order id is required")
	ErrMissingDescription = errors.New("liqpay: description is required")
)

type Client struct {
	publicKey  string
	privateKey string
	siteURL    string
	sandbox    bool
}

// NewClient returns a client bound to a key pair. Keys are validated here so
// a deployment without provider credentials fails before any session is built.
// With sandbox enabled, test-mode callbacks count as successful payments.
func NewClient(publicKey, privateKey, siteURL string, sandbox bool) (*Client, error) {
	if publicKey == "" || privateKey == "" {
		return nil, ErrMissingKeys
	}
	return &Client{
		publicKey:  publicKey,
		privateKey: privateKey,
		siteURL:    strings.TrimRight(siteURL, "/"),
		sandbox:    sandbox,
	}, nil
}

type CheckoutRequest struct {
	Amount      float64
	Currency    string
	Description string
	OrderID     string
}

type Checkout struct {
	Data      string `json:"data"`
	Signature string `json:"signature"`
	OrderID   string `json:"orderId"`
}

type checkoutPayload struct {
	PublicKey   string `json:"public_key"`
	Version     int    `json:"version"`
	Action      string `json:"action"`
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Description string `json:"description"`
	OrderID     string `json:"order_id"`
	ResultURL   string `json:"result_url"`
	ServerURL   string `json:"server_url"`
}

// NewCheckout builds the base64 payload and signature the client posts to the
// provider's checkout endpoint. The result is deterministic for fixed inputs.
func (c *Client) NewCheckout(req CheckoutRequest) (*Checkout, error) {
	if req.Amount <= 0 {
		return nil, ErrMissingAmount
	}
	if req.OrderID == "" {
		return nil, ErrMissingOrderID
	}
	if req.Description == "" {
		return nil, ErrMissingDescription
	}

	currency := req.Currency
	if currency == "" {
		currency = "UAH"
	}

	payload := checkoutPayload{
		PublicKey:   c.publicKey,
		Version:     protocolVersion,
		Action:      "pay",
		Amount:      fmt.Sprintf("%.2f", req.Amount),
		Currency:    currency,
		Description: req.Description,
		OrderID:     req.OrderID,
		ResultURL:   c.siteURL + "/order-success?orderId=" + req.OrderID,
		ServerURL:   c.siteURL + "/api/payment-callback",
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("liqpay: failed to marshal checkout payload: %w", err)
	}

	data := base64.StdEncoding.EncodeToString(raw)

	return &Checkout{
		Data:      data,
		Signature: c.Sign(data),
		OrderID:   req.OrderID,
	}, nil
}

// Sign computes base64(sha1(private_key + data + private_key)) per the
// provider's signing scheme.
func (c *Client) Sign(data string) string {
	sum := sha1.Sum([]byte(c.privateKey + data + c.privateKey))
	return base64.StdEncoding.EncodeToString(sum[:])
}

// Verify recomputes the signature over data and compares it with the one
// supplied by the caller in constant time.
func (c *Client) Verify(data, signature string) bool {
	expected := c.Sign(data)
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

type CallbackPayload struct {
	OrderID       string  `json:"order_id"`
	Status        string  `json:"status"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	TransactionID int64   `json:"transaction_id"`
	PaymentID     int64   `json:"payment_id"`
}

// CallbackSucceeded reports whether the payload describes a completed payment.
// A "sandbox" status is accepted only when the client runs in sandbox mode, so
// a test-mode callback cannot mark a production order paid.
func (c *Client) CallbackSucceeded(p *CallbackPayload) bool {
	return p.Status == "success" || (c.sandbox && p.Status == "sandbox")
}

// DecodeCallback decodes the base64 JSON body of a server callback.
func DecodeCallback(data string) (*CallbackPayload, error) {
	raw, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("liqpay: callback data is not valid base64: %w", err)
	}

	var payload CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("liqpay: failed to unmarshal callback payload: %w", err)
	}

	return &payload, nil
}
