package payment

import (
	"context"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"hash/fnv"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/midtrans/midtrans-go"
	"github.com/midtrans/midtrans-go/coreapi"

	"github.com/MrJamesThe3rd/reloop/internal/exchange"
)

// gatewayTimeLayout is the gateway's timestamp format, expressed in WIB.
const gatewayTimeLayout = "2006-01-02 15:04:05"

var wib = time.FixedZone("WIB", 7*60*60)

func parseGatewayTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}

	t, err := time.ParseInLocation(gatewayTimeLayout, s, wib)
	if err != nil {
		return nil, fmt.Errorf("parsing gateway time %q: %w", s, err)
	}

	return &t, nil
}

type MidtransOptions struct {
	Production bool
	ServerKey  string
	Expiry     time.Duration
	Mock       bool
	Client     *http.Client
}

// MidtransClient charges through the Midtrans Core API, or fakes charges
// locally in mock mode.
type MidtransClient struct {
	core   coreapi.Client
	expiry time.Duration
	mock   bool
}

func NewMidtransClient(opts MidtransOptions) *MidtransClient {
	env := midtrans.Sandbox
	if opts.Production {
		env = midtrans.Production
	}

	c := &MidtransClient{expiry: opts.Expiry, mock: opts.Mock}
	c.core.New(opts.ServerKey, env)

	httpClient := opts.Client
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}

	hc := midtrans.GetHttpClient(env)
	hc.HttpClient = httpClient
	c.core.HttpClient = hc

	if c.expiry <= 0 {
		c.expiry = 24 * time.Hour
	}

	if c.mock {
		slog.Info("payment gateway mock mode enabled")
	}

	return c
}

func (c *MidtransClient) Charge(ctx context.Context, req ChargeRequest) (*Charge, error) {
	if !req.Method.Valid() {
		return nil, fmt.Errorf("unsupported payment method %q", req.Method)
	}

	if c.mock {
		return c.mockCharge(req), nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, merr := c.core.ChargeTransaction(c.chargeReq(req))
	if merr != nil {
		slog.Error("payment gateway call failed",
			"order_id", req.OrderID, "http_status", merr.StatusCode, "message", merr.Message)

		return nil, fmt.Errorf("%w: %s", ErrGatewayUnavailable, merr.Error())
	}

	// The gateway reports failures in the body, sometimes with HTTP 200.
	if !strings.HasPrefix(resp.StatusCode, "2") {
		slog.Error("payment gateway rejected charge",
			"order_id", req.OrderID, "status_code", resp.StatusCode, "message", resp.StatusMessage)

		return nil, fmt.Errorf("%w: %s %s", ErrGatewayUnavailable, resp.StatusCode, resp.StatusMessage)
	}

	return toCharge(req, resp)
}

func (c *MidtransClient) chargeReq(req ChargeRequest) *coreapi.ChargeReq {
	cr := &coreapi.ChargeReq{
		PaymentType: coreapi.CoreapiPaymentType(req.Method),
		TransactionDetails: midtrans.TransactionDetails{
			OrderID:  req.OrderID,
			GrossAmt: req.Amount,
		},
		CustomExpiry: &coreapi.CustomExpiry{
			ExpiryDuration: int(c.expiry / time.Minute),
			Unit:           "minute",
		},
	}

	if req.ItemName != "" {
		cr.Items = &[]midtrans.ItemDetails{{
			ID:    req.OrderID,
			Name:  truncate(req.ItemName, 50),
			Price: req.Amount,
			Qty:   1,
		}}
	}

	switch req.Method {
	case exchange.MethodBankTransfer:
		cr.BankTransfer = &coreapi.BankTransferDetails{Bank: midtrans.Bank(req.Bank)}
	case exchange.MethodQRIS:
		cr.Qris = &coreapi.QrisDetails{Acquirer: "gopay"}
	}

	return cr
}

func toCharge(req ChargeRequest, resp *coreapi.ChargeResponse) (*Charge, error) {
	status, ok := MapStatus(resp.TransactionStatus, "")
	if !ok {
		status = exchange.PaymentPending
	}

	ch := &Charge{
		OrderID:       req.OrderID,
		TransactionID: resp.TransactionID,
		Status:        status,
		Bank:          req.Bank,
	}

	if len(resp.VaNumbers) > 0 {
		ch.Bank = resp.VaNumbers[0].Bank
		ch.VANumber = resp.VaNumbers[0].VANumber
	} else if resp.PermataVaNumber != "" {
		ch.Bank = "permata"
		ch.VANumber = resp.PermataVaNumber
	}

	for _, a := range resp.Actions {
		switch a.Name {
		case "deeplink-redirect":
			ch.DeeplinkURL = a.URL
		case "generate-qr-code":
			ch.QRURL = a.URL
		}
	}

	expires, err := parseGatewayTime(resp.ExpiryTime)
	if err != nil {
		return nil, err
	}

	ch.ExpiresAt = expires

	return ch, nil
}

func (c *MidtransClient) mockCharge(req ChargeRequest) *Charge {
	h := fnv.New64a()
	h.Write([]byte(req.OrderID))

	expires := time.Now().Add(c.expiry).In(wib).Truncate(time.Second)

	ch := &Charge{
		OrderID:       req.OrderID,
		TransactionID: "mock-" + req.OrderID,
		Status:        exchange.PaymentPending,
		ExpiresAt:     &expires,
	}

	switch req.Method {
	case exchange.MethodBankTransfer:
		ch.Bank = req.Bank
		ch.VANumber = fmt.Sprintf("8808%012d", h.Sum64()%1_000_000_000_000)
	case exchange.MethodGopay:
		ch.DeeplinkURL = "https://mock.gateway.local/gopay/" + req.OrderID
		ch.QRURL = "https://mock.gateway.local/qr/" + req.OrderID + ".png"
	case exchange.MethodQRIS:
		ch.QRURL = "https://mock.gateway.local/qr/" + req.OrderID + ".png"
	}

	return ch
}

// Signature computes the notification signature for the given fields.
func Signature(orderID, statusCode, grossAmount, serverKey string) string {
	sum := sha512.Sum512([]byte(orderID + statusCode + grossAmount + serverKey))
	return hex.EncodeToString(sum[:])
}

// VerifySignature compares in constant time.
func VerifySignature(n Notification, serverKey string) bool {
	want := Signature(n.OrderID, n.StatusCode, n.GrossAmount, serverKey)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(n.SignatureKey))) == 1
}

// FormatAmount renders an amount the way the gateway echoes gross_amount.
func FormatAmount(amount int64) string {
	return strconv.FormatInt(amount, 10) + ".00"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}

	return string(r[:n])
}
