/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the ledger with realistic
	data for testing and demos. Each scenario creates accounts, funds them,
	and runs payments through their lifecycle to demonstrate specific flows.

AVAILABLE SCENARIOS:

	marketplace-order: Funded buyer, wallet checkout captured, fee collected
	cod-delivery:      Cash on delivery confirmed by the courier
	refund-dispute:    Captured payment refunded after a dispute
	frozen-account:    A funded account frozen mid-review

HOW SCENARIOS WORK:
 1. Create buyer and seller accounts with unique owner references
 2. Fund the buyer via a balanced adjustment group
 3. Initiate and drive payments through the orchestrator
 4. Optionally apply admin status transitions

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "marketplace-order"}

Every load creates fresh accounts, so scenarios can be loaded repeatedly
without resetting the database.

NOTE:

	Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Domain handlers the scenarios drive
  - server.go: Route wiring
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/payments"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

// ScenarioDTO describes one loadable demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// ScenarioResultDTO reports what a scenario load created.
type ScenarioResultDTO struct {
	ScenarioID string   `json:"scenario_id"`
	Accounts   []string `json:"accounts"`
	Payments   []string `json:"payments"`
}

var scenarios = []ScenarioDTO{
	{
		ID:          "marketplace-order",
		Name:        "Marketplace Order",
		Description: "Funded buyer pays a seller by wallet checkout; the platform collects its fee",
	},
	{
		ID:          "cod-delivery",
		Name:        "Cash on Delivery",
		Description: "Courier-confirmed cash payment settled without wallet funds",
	},
	{
		ID:          "refund-dispute",
		Name:        "Refund After Dispute",
		Description: "Captured payment fully refunded under the configured fee policy",
	},
	{
		ID:          "frozen-account",
		Name:        "Frozen Account",
		Description: "A funded account frozen by an administrator during fraud review",
	},
}

// ListScenarios returns the available demo scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// LoadScenario runs one demo scenario against the live services.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScenarioID string `json:"scenario_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var (
		result ScenarioResultDTO
		err    error
	)
	switch req.ScenarioID {
	case "marketplace-order":
		result, err = h.loadMarketplaceOrder(r.Context())
	case "cod-delivery":
		result, err = h.loadCashOnDelivery(r.Context())
	case "refund-dispute":
		result, err = h.loadRefundDispute(r.Context())
	case "frozen-account":
		result, err = h.loadFrozenAccount(r.Context())
	default:
		writeError(w, http.StatusNotFound, fmt.Sprintf("Unknown scenario %q", req.ScenarioID), nil)
		return
	}
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	result.ScenarioID = req.ScenarioID
	h.log.Info().Str("scenario", req.ScenarioID).Msg("demo scenario loaded")
	writeJSON(w, http.StatusOK, result)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// demoParticipants creates a buyer/seller pair with fresh owner references
// and funds the buyer.
func (h *Handler) demoParticipants(ctx context.Context, buyerFunds string) (buyer, seller *ledger.Account, err error) {
	suffix := uuid.NewString()[:8]

	buyer, err = h.Accounts.CreateAccount(ctx, ledger.CreateAccountInput{
		Kind:           ledger.KindUser,
		OwnerReference: "demo-buyer-" + suffix,
	})
	if err != nil {
		return nil, nil, err
	}
	seller, err = h.Accounts.CreateAccount(ctx, ledger.CreateAccountInput{
		Kind:           ledger.KindUser,
		OwnerReference: "demo-seller-" + suffix,
	})
	if err != nil {
		return nil, nil, err
	}

	if buyerFunds != "" {
		amount := ledger.MustDecimal(buyerFunds)
		_, err = h.Engine.Record(ctx, ledger.RecordRequest{
			GroupID: ledger.NewGroupID(),
			Entries: []ledger.EntryInput{
				{
					AccountID:   buyer.ID,
					Amount:      amount,
					Kind:        ledger.KindAdjustmentCredit,
					Description: "demo funding",
					CreatedBy:   "demo-loader",
				},
				{
					AccountID:   "acct-demo-funding",
					Amount:      amount.Neg(),
					Kind:        ledger.KindAdjustmentDebit,
					Description: "demo funding",
					CreatedBy:   "demo-loader",
				},
			},
		})
		if err != nil {
			return nil, nil, err
		}
	}
	return buyer, seller, nil
}

func (h *Handler) loadMarketplaceOrder(ctx context.Context) (ScenarioResultDTO, error) {
	buyer, seller, err := h.demoParticipants(ctx, "1000.00")
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	p, err := h.Payments.Initiate(ctx, payments.InitiateInput{
		OrderID:        "demo-ord-" + uuid.NewString()[:8],
		Method:         payments.MethodWalletCheckout,
		Amount:         ledger.MustDecimal("1000.00"),
		PayerAccountID: buyer.ID,
		PayeeAccountID: seller.ID,
	})
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	if _, err := h.Payments.Capture(ctx, payments.CaptureInput{PaymentID: p.ID}); err != nil {
		return ScenarioResultDTO{}, err
	}

	return ScenarioResultDTO{
		Accounts: []string{string(buyer.ID), string(seller.ID)},
		Payments: []string{string(p.ID)},
	}, nil
}

func (h *Handler) loadCashOnDelivery(ctx context.Context) (ScenarioResultDTO, error) {
	buyer, seller, err := h.demoParticipants(ctx, "")
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	p, err := h.Payments.Initiate(ctx, payments.InitiateInput{
		OrderID:        "demo-ord-" + uuid.NewString()[:8],
		Method:         payments.MethodCashOnDelivery,
		Amount:         ledger.MustDecimal("250.00"),
		PayerAccountID: buyer.ID,
		PayeeAccountID: seller.ID,
	})
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	now := time.Now().UTC()
	if _, err := h.Payments.Capture(ctx, payments.CaptureInput{
		PaymentID:   p.ID,
		ConfirmedBy: "demo-courier",
		ConfirmedAt: &now,
	}); err != nil {
		return ScenarioResultDTO{}, err
	}

	return ScenarioResultDTO{
		Accounts: []string{string(buyer.ID), string(seller.ID)},
		Payments: []string{string(p.ID)},
	}, nil
}

func (h *Handler) loadRefundDispute(ctx context.Context) (ScenarioResultDTO, error) {
	result, err := h.loadMarketplaceOrder(ctx)
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	_, err = h.Payments.Refund(ctx, payments.RefundInput{
		PaymentID:   payments.PaymentID(result.Payments[0]),
		Reason:      "demo dispute: item not as described",
		RequestedBy: "demo-admin",
	})
	if err != nil {
		return ScenarioResultDTO{}, err
	}
	return result, nil
}

func (h *Handler) loadFrozenAccount(ctx context.Context) (ScenarioResultDTO, error) {
	buyer, seller, err := h.demoParticipants(ctx, "500.00")
	if err != nil {
		return ScenarioResultDTO{}, err
	}

	if err := h.Accounts.Freeze(ctx, buyer.ID, "demo-admin", "demo fraud review"); err != nil {
		return ScenarioResultDTO{}, err
	}

	return ScenarioResultDTO{
		Accounts: []string{string(buyer.ID), string(seller.ID)},
	}, nil
}
