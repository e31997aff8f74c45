package domain

import (
	"strings"
	"unicode/utf8"
)

const maxPaymentReferenceLen = 64

// PaymentClaim is what the customer says they paid with. Nothing here is
// verified against a payment processor.
type PaymentClaim struct {
	Method    PaymentMethod `json:"method"`
	Reference string        `json:"reference"`
}

func (p PaymentClaim) Validate() error {
	if !p.Method.Valid() {
		return &ValidationError{Field: "payment.method", Reason: "must be one of cash, gcash, card"}
	}
	ref := strings.TrimSpace(p.Reference)
	if utf8.RuneCountInString(ref) > maxPaymentReferenceLen {
		return &ValidationError{Field: "payment.reference", Reason: "too long"}
	}
	if p.Method == PaymentGCash && ref == "" {
		return &ValidationError{Field: "payment.reference", Reason: "required for gcash"}
	}
	return nil
}

// ReferencePtr returns the trimmed reference, or nil when none was given.
func (p PaymentClaim) ReferencePtr() *string {
	ref := strings.TrimSpace(p.Reference)
	if ref == "" {
		return nil
	}
	return &ref
}
