/*
handlers.go - HTTP API handlers for the commerce ledger

PURPOSE:
  Exposes the ledger, account manager, fee calculator, and payment
  orchestrator via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Accounts:
    POST   /api/accounts                    Create account
    GET    /api/accounts/{id}               Get account
    GET    /api/accounts/{id}/balance       Computed balance
    GET    /api/accounts/{id}/entries       Entry history
    GET    /api/accounts/{id}/status-log    Status transition audit
    POST   /api/accounts/{id}/freeze        Admin transitions
           /unfreeze /suspend /reinstate /close

  Payments:
    POST   /api/payments                    Initiate
    GET    /api/payments/{id}               Get payment
    POST   /api/payments/{id}/authorize     Attach gateway auth
    POST   /api/payments/{id}/capture       Settle (moves money)
    POST   /api/payments/{id}/cancel        Void before capture
    POST   /api/payments/{id}/fail          Record gateway rejection
    POST   /api/payments/{id}/refund        Full refund
    GET    /api/orders/{orderID}/payment    Lookup by order

  Groups:
    GET    /api/groups/{id}                 Entries of one group
    GET    /api/groups/{id}/verify          Zero-sum audit

  Fees:
    POST   /api/fees/quote                  Preview a fee

ERROR HANDLING:
  The domain error taxonomy maps onto HTTP statuses:
  - 400: Malformed JSON, failed request validation
  - 404: Unknown account, payment, or group
  - 409: State conflicts (frozen account, captured payment, duplicate order)
         and concurrency conflicts (lock not acquired; retryable=true)
  - 422: Domain validation failures (unbalanced group, bad amounts,
         insufficient funds)
  - 500: Everything else

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/meridian/commerce-ledger/fees"
	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Accounts *ledger.Manager
	Engine   *ledger.Engine
	Payments *payments.Orchestrator
	Rules    fees.RuleSet

	calc     *fees.Calculator
	validate *validator.Validate
	log      zerolog.Logger
}

// NewHandler creates a new handler over the domain services.
func NewHandler(accounts *ledger.Manager, engine *ledger.Engine, orchestrator *payments.Orchestrator, rules fees.RuleSet, log zerolog.Logger) *Handler {
	return &Handler{
		Accounts: accounts,
		Engine:   engine,
		Payments: orchestrator,
		Rules:    rules,
		calc:     fees.NewCalculator(),
		validate: validator.New(),
		log:      log,
	}
}

// decode parses and validates a JSON request body.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := h.validate.Struct(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Request validation failed", err)
		return false
	}
	return true
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// CreateAccount creates a new account with implicit zero balance.
func (h *Handler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.Accounts.CreateAccount(r.Context(), ledger.CreateAccountInput{
		Kind:           ledger.AccountKind(req.Kind),
		OwnerReference: req.OwnerReference,
		UniqueCode:     req.UniqueCode,
		Currency:       req.Currency,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, toAccountDTO(account))
}

// GetAccount returns a single account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	account, err := h.Accounts.ResolveAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

// GetBalance returns the account's live, replay-computed balance.
func (h *Handler) GetBalance(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	account, err := h.Accounts.ResolveAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	balance, err := h.Accounts.GetBalance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, BalanceDTO{
		AccountID: string(id),
		Balance:   balance.String(),
		Currency:  account.Currency,
		AsOf:      time.Now().UTC().Format(time.RFC3339),
	})
}

// GetEntries returns the full entry history of an account, oldest first.
func (h *Handler) GetEntries(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Accounts.ResolveAccount(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	entries, err := h.Accounts.Entries.LoadByAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// GetStatusLog returns the audited status transitions of an account.
func (h *Handler) GetStatusLog(w http.ResponseWriter, r *http.Request) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	if _, err := h.Accounts.ResolveAccount(r.Context(), id); err != nil {
		h.writeDomainError(w, err)
		return
	}
	changes, err := h.Accounts.Audit.StatusHistory(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	dtos := make([]StatusChangeDTO, len(changes))
	for i, c := range changes {
		dtos[i] = StatusChangeDTO{
			ID:        c.ID,
			AccountID: string(c.AccountID),
			From:      string(c.From),
			To:        string(c.To),
			Actor:     c.Actor,
			Reason:    c.Reason,
			CreatedAt: c.CreatedAt.Format(time.RFC3339),
		}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// statusTransition wraps the admin transition endpoints, which differ only in
// which Manager method they call.
func (h *Handler) statusTransition(w http.ResponseWriter, r *http.Request,
	apply func(r *http.Request, id ledger.AccountID, actor, reason string) error) {
	id := ledger.AccountID(chi.URLParam(r, "id"))

	var req StatusChangeRequest
	if !h.decode(w, r, &req) {
		return
	}

	if err := apply(r, id, req.Actor, req.Reason); err != nil {
		h.writeDomainError(w, err)
		return
	}

	account, err := h.Accounts.ResolveAccount(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAccountDTO(account))
}

func (h *Handler) FreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.statusTransition(w, r, func(r *http.Request, id ledger.AccountID, actor, reason string) error {
		return h.Accounts.Freeze(r.Context(), id, actor, reason)
	})
}

func (h *Handler) UnfreezeAccount(w http.ResponseWriter, r *http.Request) {
	h.statusTransition(w, r, func(r *http.Request, id ledger.AccountID, actor, reason string) error {
		return h.Accounts.Unfreeze(r.Context(), id, actor, reason)
	})
}

func (h *Handler) SuspendAccount(w http.ResponseWriter, r *http.Request) {
	h.statusTransition(w, r, func(r *http.Request, id ledger.AccountID, actor, reason string) error {
		return h.Accounts.Suspend(r.Context(), id, actor, reason)
	})
}

func (h *Handler) ReinstateAccount(w http.ResponseWriter, r *http.Request) {
	h.statusTransition(w, r, func(r *http.Request, id ledger.AccountID, actor, reason string) error {
		return h.Accounts.Reinstate(r.Context(), id, actor, reason)
	})
}

func (h *Handler) CloseAccount(w http.ResponseWriter, r *http.Request) {
	h.statusTransition(w, r, func(r *http.Request, id ledger.AccountID, actor, reason string) error {
		return h.Accounts.Close(r.Context(), id, actor, reason)
	})
}

// =============================================================================
// PAYMENT HANDLERS
// =============================================================================

// InitiatePayment creates an INITIATED payment with its fee snapshot.
func (h *Handler) InitiatePayment(w http.ResponseWriter, r *http.Request) {
	var req InitiatePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return
	}

	p, err := h.Payments.Initiate(r.Context(), payments.InitiateInput{
		OrderID:        req.OrderID,
		Method:         payments.Method(req.Method),
		Amount:         amount,
		PayerAccountID: ledger.AccountID(req.PayerAccountID),
		PayeeAccountID: ledger.AccountID(req.PayeeAccountID),
		CategoryID:     req.CategoryID,
		SellerID:       req.SellerID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPaymentDTO(p))
}

// GetPayment returns a single payment.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := payments.PaymentID(chi.URLParam(r, "id"))

	p, err := h.Payments.GetPayment(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// GetPaymentByOrder returns the payment attached to an order.
func (h *Handler) GetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	p, err := h.Payments.GetPaymentByOrder(r.Context(), orderID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// AuthorizePayment attaches gateway authorization metadata.
func (h *Handler) AuthorizePayment(w http.ResponseWriter, r *http.Request) {
	id := payments.PaymentID(chi.URLParam(r, "id"))

	var req AuthorizePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Payments.Authorize(r.Context(), id, req.GatewayReference)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// CapturePayment settles the payment: this is the endpoint that moves money.
func (h *Handler) CapturePayment(w http.ResponseWriter, r *http.Request) {
	id := payments.PaymentID(chi.URLParam(r, "id"))

	var req CapturePaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Payments.Capture(r.Context(), payments.CaptureInput{
		PaymentID:            id,
		ConfirmedBy:          req.ConfirmedBy,
		ConfirmedAt:          req.ConfirmedAt,
		GatewayTransactionID: req.GatewayTransactionID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// CancelPayment voids an uncaptured payment.
func (h *Handler) CancelPayment(w http.ResponseWriter, r *http.Request) {
	id := payments.PaymentID(chi.URLParam(r, "id"))

	var req CancelPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Payments.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// FailPayment records a gateway rejection of an uncaptured payment.
func (h *Handler) FailPayment(w http.ResponseWriter, r *http.Request) {
	id := payments.PaymentID(chi.URLParam(r, "id"))

	var req FailPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Payments.Fail(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// RefundPayment reverses a captured payment in full.
func (h *Handler) RefundPayment(w http.ResponseWriter, r *http.Request) {
	id := payments.PaymentID(chi.URLParam(r, "id"))

	var req RefundPaymentRequest
	if !h.decode(w, r, &req) {
		return
	}

	p, err := h.Payments.Refund(r.Context(), payments.RefundInput{
		PaymentID:   id,
		Reason:      req.Reason,
		RequestedBy: req.RequestedBy,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentDTO(p))
}

// =============================================================================
// GROUP HANDLERS
// =============================================================================

// GetGroup returns all entries of one transaction group, by position.
func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	groupID := ledger.GroupID(chi.URLParam(r, "id"))

	entries, err := h.Engine.Store.LoadByGroup(r.Context(), groupID)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	if len(entries) == 0 {
		writeError(w, http.StatusNotFound, "Transaction group not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTOs(entries))
}

// VerifyGroup re-checks the zero-sum invariant of a committed group.
func (h *Handler) VerifyGroup(w http.ResponseWriter, r *http.Request) {
	groupID := ledger.GroupID(chi.URLParam(r, "id"))

	err := h.Engine.VerifyGroupInvariant(r.Context(), groupID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, GroupVerifyDTO{GroupID: string(groupID), Balanced: true})
	case errors.Is(err, ledger.ErrGroupNotFound):
		writeError(w, http.StatusNotFound, "Transaction group not found", err)
	case errors.Is(err, ledger.ErrUnbalancedGroup):
		writeJSON(w, http.StatusOK, GroupVerifyDTO{
			GroupID:  string(groupID),
			Balanced: false,
			Detail:   err.Error(),
		})
	default:
		h.writeDomainError(w, err)
	}
}

// =============================================================================
// FEE HANDLERS
// =============================================================================

// QuoteFee previews the platform fee for an order context without recording
// anything.
func (h *Handler) QuoteFee(w http.ResponseWriter, r *http.Request) {
	var req FeeQuoteRequest
	if !h.decode(w, r, &req) {
		return
	}

	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid amount (use a decimal string)", err)
		return
	}

	quote, err := h.calc.Calculate(h.Rules, fees.Input{
		OrderAmount: amount,
		CategoryID:  req.CategoryID,
		SellerID:    req.SellerID,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, FeeQuoteDTO{
		Amount:      amount.String(),
		Fee:         quote.Amount.String(),
		Percent:     quote.Percent.String(),
		RuleApplied: quote.RuleApplied,
		RuleVersion: h.Rules.Version,
	})
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

// writeDomainError maps the domain error taxonomy onto HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, ledger.ErrGroupNotFound),
		errors.Is(err, payments.ErrPaymentNotFound):
		writeError(w, http.StatusNotFound, "Not found", err)

	case ledger.IsValidation(err),
		errors.Is(err, fees.ErrNoOrderAmount),
		errors.Is(err, fees.ErrTieredRuleUnsupported),
		errors.Is(err, payments.ErrMissingConfirmation),
		errors.Is(err, payments.ErrNotGatewayMethod):
		writeError(w, http.StatusUnprocessableEntity, "Validation failed", err)

	case errors.Is(err, ledger.ErrInsufficientFunds):
		writeError(w, http.StatusUnprocessableEntity, "Insufficient funds", err)

	case ledger.IsConcurrencyConflict(err):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error:     "Concurrency conflict",
			Detail:    err.Error(),
			Retryable: true,
		})

	case ledger.IsStateConflict(err), payments.IsStateConflict(err):
		writeError(w, http.StatusConflict, "State conflict", err)

	default:
		h.log.Error().Err(err).Msg("internal error")
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string, err error) {
	resp := ErrorResponse{Error: msg}
	if err != nil {
		resp.Detail = err.Error()
	}
	writeJSON(w, status, resp)
}
