package api_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian/commerce-ledger/api"
	"github.com/meridian/commerce-ledger/ledger"
	"github.com/meridian/commerce-ledger/ledger/store"
)

// =============================================================================
// DEMO SCENARIOS
// =============================================================================

func TestScenarios_List(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/scenarios/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]api.ScenarioDTO](t, rec)
	assert.NotEmpty(t, list)
}

func TestScenarios_LoadMarketplaceOrder(t *testing.T) {
	// GIVEN: A fresh server
	// WHEN: Loading the marketplace-order scenario twice
	// THEN: Each load creates fresh accounts and a captured payment

	ts := newTestServer(t)

	for i := 0; i < 2; i++ {
		rec := ts.do(t, http.MethodPost, "/api/scenarios/load",
			map[string]string{"scenario_id": "marketplace-order"})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		result := decodeBody[api.ScenarioResultDTO](t, rec)
		require.Len(t, result.Accounts, 2)
		require.Len(t, result.Payments, 1)

		rec = ts.do(t, http.MethodGet, "/api/payments/"+result.Payments[0], nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "captured", decodeBody[api.PaymentDTO](t, rec).State)
	}
}

func TestScenarios_LoadRefundDispute(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "refund-dispute"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	result := decodeBody[api.ScenarioResultDTO](t, rec)
	rec = ts.do(t, http.MethodGet, "/api/payments/"+result.Payments[0], nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "refunded", decodeBody[api.PaymentDTO](t, rec).State)
}

func TestScenarios_UnknownID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/scenarios/load",
		map[string]string{"scenario_id": "time-travel"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// AUDIT SWEEPER
// =============================================================================

func TestAuditor_SweepVerifiesRecentGroups(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := engine.Record(ctx, ledger.RecordRequest{
			GroupID: ledger.NewGroupID(),
			Entries: []ledger.EntryInput{
				{
					AccountID:   "acct-a",
					Amount:      ledger.MustDecimal("-10.00"),
					Kind:        ledger.KindPaymentDebit,
					Description: "sweep fixture",
					PaymentID:   "pay-sweep",
				},
				{
					AccountID:   "acct-b",
					Amount:      ledger.MustDecimal("10.00"),
					Kind:        ledger.KindPaymentCredit,
					Description: "sweep fixture",
					PaymentID:   "pay-sweep",
				},
			},
		})
		require.NoError(t, err)
	}

	auditor := api.NewAuditor(engine, mem, zerolog.Nop())
	result := auditor.Sweep(ctx)
	assert.Equal(t, 3, result.Checked)
	assert.Zero(t, result.Violations)

	last := auditor.LastSweep()
	require.NotNil(t, last)
	assert.Equal(t, 3, last.Checked)
}

func TestAuditor_SweepLimit(t *testing.T) {
	mem := store.NewMemory()
	engine := ledger.NewEngine(mem)
	ctx := context.Background()

	groups, err := mem.RecentGroups(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, groups, "no groups yet")

	auditor := api.NewAuditor(engine, mem, zerolog.Nop())
	result := auditor.Sweep(ctx)
	assert.Zero(t, result.Checked)
	assert.Zero(t, result.Violations)
}
