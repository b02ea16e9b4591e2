/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

AMOUNTS:
  All monetary values cross the wire as JSON strings ("1000.00"), never
  numbers: JSON numbers are floats and floats never touch money.

VALIDATION:
  Request types carry go-playground/validator struct tags; handlers run the
  validator before touching domain logic.

SEE ALSO:
  - handlers.go: Uses these types
  - server.go: Route wiring
*/
package api

import (
	"time"

	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
)

// =============================================================================
// ACCOUNT TYPES
// =============================================================================

// AccountDTO represents an account in API responses.
type AccountDTO struct {
	ID             string `json:"id"`
	Kind           string `json:"kind"`
	OwnerReference string `json:"owner_reference,omitempty"`
	UniqueCode     string `json:"unique_code,omitempty"`
	Status         string `json:"status"`
	Currency       string `json:"currency"`
	CreatedAt      string `json:"created_at"`
}

func toAccountDTO(a *ledger.Account) AccountDTO {
	return AccountDTO{
		ID:             string(a.ID),
		Kind:           string(a.Kind),
		OwnerReference: a.OwnerReference,
		UniqueCode:     a.UniqueCode,
		Status:         string(a.Status),
		Currency:       a.Currency,
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
	}
}

// CreateAccountRequest is the request to create an account.
type CreateAccountRequest struct {
	Kind           string `json:"kind" validate:"required,oneof=user platform escrow"`
	OwnerReference string `json:"owner_reference,omitempty" validate:"required_if=Kind user"`
	UniqueCode     string `json:"unique_code,omitempty" validate:"required_unless=Kind user"`
	Currency       string `json:"currency,omitempty" validate:"omitempty,len=3"`
}

// BalanceDTO is the computed balance of one account.
type BalanceDTO struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
	Currency  string `json:"currency"`
	AsOf      string `json:"as_of"`
}

// StatusChangeRequest drives an admin status transition.
type StatusChangeRequest struct {
	Actor  string `json:"actor" validate:"required"`
	Reason string `json:"reason" validate:"required"`
}

// StatusChangeDTO is one audited status transition.
type StatusChangeDTO struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	From      string `json:"from"`
	To        string `json:"to"`
	Actor     string `json:"actor"`
	Reason    string `json:"reason,omitempty"`
	CreatedAt string `json:"created_at"`
}

// =============================================================================
// ENTRY TYPES
// =============================================================================

// EntryDTO represents one immutable ledger entry.
type EntryDTO struct {
	ID             string `json:"id"`
	AccountID      string `json:"account_id"`
	Amount         string `json:"amount"`
	Kind           string `json:"kind"`
	GroupID        string `json:"group_id"`
	Position       int    `json:"position"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	Description    string `json:"description"`
	PaymentID      string `json:"payment_id,omitempty"`
	OrderID        string `json:"order_id,omitempty"`
	RefundID       string `json:"refund_id,omitempty"`
	WithdrawalID   string `json:"withdrawal_id,omitempty"`
	CreatedBy      string `json:"created_by,omitempty"`
	CreatedAt      string `json:"created_at"`
}

func toEntryDTOs(entries []ledger.Entry) []EntryDTO {
	dtos := make([]EntryDTO, len(entries))
	for i, e := range entries {
		dtos[i] = EntryDTO{
			ID:             string(e.ID),
			AccountID:      string(e.AccountID),
			Amount:         e.Amount.String(),
			Kind:           string(e.Kind),
			GroupID:        string(e.GroupID),
			Position:       e.Position,
			IdempotencyKey: e.IdempotencyKey,
			Description:    e.Description,
			PaymentID:      e.PaymentID,
			OrderID:        e.OrderID,
			RefundID:       e.RefundID,
			WithdrawalID:   e.WithdrawalID,
			CreatedBy:      e.CreatedBy,
			CreatedAt:      e.CreatedAt.Format(time.RFC3339Nano),
		}
	}
	return dtos
}

// GroupVerifyDTO reports the zero-sum audit of one transaction group.
type GroupVerifyDTO struct {
	GroupID  string `json:"group_id"`
	Balanced bool   `json:"balanced"`
	Detail   string `json:"detail,omitempty"`
}

// =============================================================================
// PAYMENT TYPES
// =============================================================================

// PaymentDTO represents a payment in API responses.
type PaymentDTO struct {
	ID             string `json:"id"`
	OrderID        string `json:"order_id"`
	Method         string `json:"method"`
	Amount         string `json:"amount"`
	PayerAccountID string `json:"payer_account_id"`
	PayeeAccountID string `json:"payee_account_id"`
	FeeAmount      string `json:"fee_amount"`
	FeePercent     string `json:"fee_percent"`
	FeeRule        string `json:"fee_rule"`
	State          string `json:"state"`

	GatewayReference     string `json:"gateway_reference,omitempty"`
	GatewayTransactionID string `json:"gateway_transaction_id,omitempty"`
	ConfirmedBy          string `json:"confirmed_by,omitempty"`
	FailureReason        string `json:"failure_reason,omitempty"`

	InitiatedAt  string  `json:"initiated_at"`
	AuthorizedAt *string `json:"authorized_at,omitempty"`
	CapturedAt   *string `json:"captured_at,omitempty"`
	CancelledAt  *string `json:"cancelled_at,omitempty"`
	RefundedAt   *string `json:"refunded_at,omitempty"`
}

func toPaymentDTO(p *payments.Payment) PaymentDTO {
	return PaymentDTO{
		ID:                   string(p.ID),
		OrderID:              p.OrderID,
		Method:               string(p.Method),
		Amount:               p.Amount.String(),
		PayerAccountID:       string(p.PayerAccountID),
		PayeeAccountID:       string(p.PayeeAccountID),
		FeeAmount:            p.FeeAmount.String(),
		FeePercent:           p.FeePercent.String(),
		FeeRule:              p.FeeRule,
		State:                string(p.State),
		GatewayReference:     p.GatewayReference,
		GatewayTransactionID: p.GatewayTransactionID,
		ConfirmedBy:          p.ConfirmedBy,
		FailureReason:        p.FailureReason,
		InitiatedAt:          p.InitiatedAt.Format(time.RFC3339),
		AuthorizedAt:         formatOptional(p.AuthorizedAt),
		CapturedAt:           formatOptional(p.CapturedAt),
		CancelledAt:          formatOptional(p.CancelledAt),
		RefundedAt:           formatOptional(p.RefundedAt),
	}
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

// InitiatePaymentRequest starts a payment for an order.
type InitiatePaymentRequest struct {
	OrderID        string `json:"order_id" validate:"required"`
	Method         string `json:"method" validate:"required,oneof=cash_on_delivery card_auth_capture wallet_checkout"`
	Amount         string `json:"amount" validate:"required"`
	PayerAccountID string `json:"payer_account_id" validate:"required"`
	PayeeAccountID string `json:"payee_account_id" validate:"required"`
	CategoryID     string `json:"category_id,omitempty"`
	SellerID       string `json:"seller_id,omitempty"`
}

// AuthorizePaymentRequest attaches gateway authorization metadata.
type AuthorizePaymentRequest struct {
	GatewayReference string `json:"gateway_reference" validate:"required"`
}

// CapturePaymentRequest settles a payment.
type CapturePaymentRequest struct {
	ConfirmedBy          string     `json:"confirmed_by,omitempty"`
	ConfirmedAt          *time.Time `json:"confirmed_at,omitempty"`
	GatewayTransactionID string     `json:"gateway_transaction_id,omitempty"`
}

// CancelPaymentRequest voids an uncaptured payment.
type CancelPaymentRequest struct {
	Reason string `json:"reason,omitempty"`
}

// FailPaymentRequest records a gateway rejection.
type FailPaymentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

// RefundPaymentRequest reverses a captured payment in full.
type RefundPaymentRequest struct {
	Reason      string `json:"reason" validate:"required"`
	RequestedBy string `json:"requested_by" validate:"required"`
}

// =============================================================================
// FEE TYPES
// =============================================================================

// FeeQuoteRequest previews the fee for an order context.
type FeeQuoteRequest struct {
	Amount     string `json:"amount" validate:"required"`
	CategoryID string `json:"category_id,omitempty"`
	SellerID   string `json:"seller_id,omitempty"`
}

// FeeQuoteDTO is a computed fee preview.
type FeeQuoteDTO struct {
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Percent     string `json:"percent"`
	RuleApplied string `json:"rule_applied"`
	RuleVersion string `json:"rule_version"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error     string `json:"error"`
	Detail    string `json:"detail,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}
