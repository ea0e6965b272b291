package square

import (
	"testing"

	sq "github.com/square/square-go-sdk"
)

func TestRefundCreateParamsToSquareRequest(t *testing.T) {
	params := RefundCreateParams{
		PaymentID:   "pay-123",
		AmountCents: 2500,
		Currency:    "usd",
		Reason:      "return accepted",
	}
	req := params.toSquareRequest("refund.create-key")

	if req.IdempotencyKey != "refund.create-key" {
		t.Fatalf("unexpected idempotency key %q", req.IdempotencyKey)
	}
	if req.PaymentID == nil || *req.PaymentID != "pay-123" {
		t.Fatalf("unexpected payment id %v", req.PaymentID)
	}
	if req.AmountMoney == nil || *req.AmountMoney.Amount != 2500 {
		t.Fatalf("unexpected amount %v", req.AmountMoney)
	}
	if *req.AmountMoney.Currency != sq.Currency("USD") {
		t.Fatalf("currency should be upper-cased, got %v", *req.AmountMoney.Currency)
	}
	if req.Reason == nil || *req.Reason != "return accepted" {
		t.Fatalf("unexpected reason %v", req.Reason)
	}
}

func TestRefundCreateParamsOmitsEmptyFields(t *testing.T) {
	req := RefundCreateParams{AmountCents: 0}.toSquareRequest("k")
	if req.AmountMoney != nil {
		t.Fatalf("zero amount should omit money")
	}
	if req.PaymentID != nil || req.Reason != nil {
		t.Fatalf("empty fields should stay nil")
	}
}
