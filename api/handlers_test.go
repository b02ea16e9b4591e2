package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/commerce-ledger/api"
	"github.com/meridian/commerce-ledger/fees"
	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/ledger/store"
	"github.com/meridian/commerce-ledger/payments"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	router  http.Handler
	manager *ledger.Manager
	engine  *ledger.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	manager := ledger.NewManager(mem, mem, mem)

	_, err := manager.EnsureSystemAccounts(ctx, ledger.DefaultCurrency)
	require.NoError(t, err)

	rules := fees.StandardMarketplaceRules("test-rules")
	orchestrator, err := payments.New(payments.Config{
		Payments:   store.NewMemoryPayments(),
		Locks:      store.NewMemoryLocker(time.Second),
		Accounts:   manager,
		Engine:     engine,
		Rules:      rules,
		RefundFees: payments.RefundFeeRetain,
		Logger:     zerolog.Nop(),
	})
	require.NoError(t, err)

	handler := api.NewHandler(manager, engine, orchestrator, rules, zerolog.Nop())
	return &testServer{
		router:  api.NewRouter(handler),
		manager: manager,
		engine:  engine,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v), "body: %s", rec.Body.String())
	return v
}

func (ts *testServer) createAccount(t *testing.T, owner string) api.AccountDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/accounts", map[string]string{
		"kind":            "user",
		"owner_reference": owner,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.AccountDTO](t, rec)
}

func (ts *testServer) fund(t *testing.T, id, amount string) {
	t.Helper()
	_, err := ts.engine.Record(context.Background(), ledger.RecordRequest{
		GroupID: ledger.NewGroupID(),
		Entries: []ledger.EntryInput{
			{
				AccountID:   ledger.AccountID(id),
				Amount:      ledger.MustDecimal(amount),
				Kind:        ledger.KindAdjustmentCredit,
				Description: "test funding",
				CreatedBy:   "test",
			},
			{
				AccountID:   "acct-funding-source",
				Amount:      ledger.MustDecimal(amount).Neg(),
				Kind:        ledger.KindAdjustmentDebit,
				Description: "test funding",
				CreatedBy:   "test",
			},
		},
	})
	require.NoError(t, err)
}

// =============================================================================
// ACCOUNTS
// =============================================================================

func TestAPI_CreateAccountAndReadBalance(t *testing.T) {
	ts := newTestServer(t)

	account := ts.createAccount(t, "user-1")
	assert.Equal(t, "active", account.Status)
	assert.Equal(t, "user-1", account.OwnerReference)

	rec := ts.do(t, http.MethodGet, "/api/accounts/"+account.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	balance := decodeBody[api.BalanceDTO](t, rec)
	assert.Equal(t, "0", balance.Balance)
	assert.Equal(t, ledger.DefaultCurrency, balance.Currency)
}

func TestAPI_CreateAccount_ValidationErrors(t *testing.T) {
	ts := newTestServer(t)

	// user account without owner reference
	rec := ts.do(t, http.MethodPost, "/api/accounts", map[string]string{"kind": "user"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// malformed JSON
	req := httptest.NewRequest(http.MethodPost, "/api/accounts", bytes.NewBufferString("{not json"))
	rec2 := httptest.NewRecorder()
	ts.router.ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusBadRequest, rec2.Code)
}

func TestAPI_GetAccount_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/accounts/acct-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_FreezeAndStatusLog(t *testing.T) {
	ts := newTestServer(t)
	account := ts.createAccount(t, "user-1")

	rec := ts.do(t, http.MethodPost, "/api/accounts/"+account.ID+"/freeze", map[string]string{
		"actor":  "admin-1",
		"reason": "fraud review",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/accounts/"+account.ID+"/status-log", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	log := decodeBody[[]api.StatusChangeDTO](t, rec)
	require.Len(t, log, 1)
	assert.Equal(t, "frozen", log[0].To)
	assert.Equal(t, "admin-1", log[0].Actor)

	// An illegal transition maps to 409.
	rec = ts.do(t, http.MethodPost, "/api/accounts/"+account.ID+"/suspend", map[string]string{
		"actor":  "admin-1",
		"reason": "kyc",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// PAYMENTS
// =============================================================================

func (ts *testServer) initiatePayment(t *testing.T, payerID, payeeID, orderID, amount string) api.PaymentDTO {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/payments", map[string]string{
		"order_id":         orderID,
		"method":           "wallet_checkout",
		"amount":           amount,
		"payer_account_id": payerID,
		"payee_account_id": payeeID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeBody[api.PaymentDTO](t, rec)
}

func TestAPI_PaymentFlow_InitiateCaptureRefund(t *testing.T) {
	// GIVEN: A funded payer
	// WHEN: Initiating, capturing, and refunding a 1000.00 payment over HTTP
	// THEN: Each step returns the payment in its new state and the balances move

	ts := newTestServer(t)
	payer := ts.createAccount(t, "buyer-1")
	payee := ts.createAccount(t, "seller-1")
	ts.fund(t, payer.ID, "1000.00")

	p := ts.initiatePayment(t, payer.ID, payee.ID, "ord-1", "1000.00")
	assert.Equal(t, "initiated", p.State)
	assert.Equal(t, "25", p.FeeAmount)

	rec := ts.do(t, http.MethodPost, "/api/payments/"+p.ID+"/capture", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	captured := decodeBody[api.PaymentDTO](t, rec)
	assert.Equal(t, "captured", captured.State)
	assert.NotNil(t, captured.CapturedAt)

	rec = ts.do(t, http.MethodGet, "/api/accounts/"+payee.ID+"/balance", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "975", decodeBody[api.BalanceDTO](t, rec).Balance)

	rec = ts.do(t, http.MethodPost, "/api/payments/"+p.ID+"/refund", map[string]string{
		"reason":       "item damaged",
		"requested_by": "admin-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "refunded", decodeBody[api.PaymentDTO](t, rec).State)

	rec = ts.do(t, http.MethodGet, "/api/accounts/"+payer.ID+"/balance", nil)
	assert.Equal(t, "975", decodeBody[api.BalanceDTO](t, rec).Balance, "retain policy keeps the fee")
}

func TestAPI_Capture_InsufficientFunds_Is422(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.createAccount(t, "buyer-1")
	payee := ts.createAccount(t, "seller-1")
	ts.fund(t, payer.ID, "10.00")

	p := ts.initiatePayment(t, payer.ID, payee.ID, "ord-1", "100.00")
	rec := ts.do(t, http.MethodPost, "/api/payments/"+p.ID+"/capture", map[string]string{})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	body := decodeBody[api.ErrorResponse](t, rec)
	assert.Equal(t, "Insufficient funds", body.Error)
}

func TestAPI_Capture_FrozenPayee_Is409(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.createAccount(t, "buyer-1")
	payee := ts.createAccount(t, "seller-1")
	ts.fund(t, payer.ID, "100.00")

	p := ts.initiatePayment(t, payer.ID, payee.ID, "ord-1", "100.00")

	rec := ts.do(t, http.MethodPost, "/api/accounts/"+payee.ID+"/freeze", map[string]string{
		"actor":  "admin-1",
		"reason": "fraud review",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/payments/"+p.ID+"/capture", map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestAPI_GetPayment_NotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/payments/pay-ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/orders/ord-ghost/payment", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_PaymentByOrder(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.createAccount(t, "buyer-1")
	payee := ts.createAccount(t, "seller-1")

	p := ts.initiatePayment(t, payer.ID, payee.ID, "ord-1", "50.00")
	rec := ts.do(t, http.MethodGet, "/api/orders/ord-1/payment", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, p.ID, decodeBody[api.PaymentDTO](t, rec).ID)

	// A second payment for the same order conflicts.
	rec = ts.do(t, http.MethodPost, "/api/payments", map[string]string{
		"order_id":         "ord-1",
		"method":           "wallet_checkout",
		"amount":           "60.00",
		"payer_account_id": payer.ID,
		"payee_account_id": payee.ID,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

// =============================================================================
// GROUPS AND FEES
// =============================================================================

func TestAPI_GroupVerify(t *testing.T) {
	ts := newTestServer(t)
	payer := ts.createAccount(t, "buyer-1")
	payee := ts.createAccount(t, "seller-1")
	ts.fund(t, payer.ID, "100.00")

	p := ts.initiatePayment(t, payer.ID, payee.ID, "ord-1", "100.00")
	rec := ts.do(t, http.MethodPost, "/api/payments/"+p.ID+"/capture", map[string]string{})
	require.Equal(t, http.StatusOK, rec.Code)

	entries, err := ts.engine.Store.LoadByIdempotencyKey(context.Background(),
		payments.CaptureKey(payments.PaymentID(p.ID)))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	groupID := string(entries[0].GroupID)

	rec = ts.do(t, http.MethodGet, fmt.Sprintf("/api/groups/%s/verify", groupID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	verify := decodeBody[api.GroupVerifyDTO](t, rec)
	assert.True(t, verify.Balanced)

	rec = ts.do(t, http.MethodGet, "/api/groups/grp-ghost/verify", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_FeeQuote(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/fees/quote", map[string]string{"amount": "1000.00"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	quote := decodeBody[api.FeeQuoteDTO](t, rec)
	assert.Equal(t, "25", quote.Fee)
	assert.Equal(t, "2.5", quote.Percent)
	assert.Equal(t, "default", quote.RuleApplied)

	rec = ts.do(t, http.MethodPost, "/api/fees/quote", map[string]string{"amount": "not-a-number"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
