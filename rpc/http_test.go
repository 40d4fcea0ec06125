package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"moneymarket/config"
	"moneymarket/contracts"
	"moneymarket/core"
	"moneymarket/core/pricing"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/native/pool"
	"moneymarket/settlement"
	"moneymarket/storage"
)

const testSecret = "rpc-test-secret"

func account(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

var (
	admin = account(0xAD)
	alice = account(0xA1)
	bob   = account(0xB0)
)

type testEnv struct {
	handler    http.Handler
	outbox     *settlement.Outbox
	deployment *contracts.Deployment
}

func newTestEnv(t *testing.T, mutate func(*ServerConfig)) *testEnv {
	t.Helper()
	ctx := context.Background()

	db, err := settlement.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	outbox, err := settlement.NewOutbox(db)
	require.NoError(t, err)

	adminSet := nativecommon.NewAdminSet(admin)
	prices := pricing.NewStaticFeed(0)
	ledger := core.NewLedger(storage.NewMemDB(), core.WithSink(outbox))
	ledger.RegisterCode(contracts.PoolCode, contracts.NewPool(nil))
	ledger.RegisterCode(contracts.RiskCode, contracts.NewRisk(prices, adminSet, nil))

	genesis, err := config.ParseGenesis([]byte(`
markets:
  - {asset_id: ATOM, denom: uatom, collateral_factor: "0.5", price: "10"}
  - {asset_id: USDC, denom: uusdc, collateral_factor: "0.8", price: "1"}
`))
	require.NoError(t, err)
	deployment, err := contracts.Bootstrap(ctx, ledger, admin, genesis, prices)
	require.NoError(t, err)

	cfg := ServerConfig{JWTSecret: testSecret, Admin: adminSet}
	if mutate != nil {
		mutate(&cfg)
	}
	srv := NewServer(ledger, prices, outbox, cfg)
	return &testEnv{handler: srv.Handler(), outbox: outbox, deployment: deployment}
}

func token(t *testing.T, who crypto.Address) string {
	t.Helper()
	tok, err := IssueToken(testSecret, who, time.Hour)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) call(t *testing.T, tok, method string, params ...interface{}) (int, RPCResponse) {
	t.Helper()
	raw := make([]json.RawMessage, 0, len(params))
	for _, p := range params {
		encoded, err := json.Marshal(p)
		require.NoError(t, err)
		raw = append(raw, encoded)
	}
	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: method, Params: raw, ID: 1})
	require.NoError(t, err)
	return e.post(t, tok, body)
}

func (e *testEnv) post(t *testing.T, tok string, body []byte) (int, RPCResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	req.RemoteAddr = "10.0.0.1:1234"
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	var resp RPCResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec.Code, resp
}

func decodeResult(t *testing.T, resp RPCResponse, out interface{}) {
	t.Helper()
	require.Nil(t, resp.Error)
	raw, err := json.Marshal(resp.Result)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(raw, out))
}

func errorData(t *testing.T, resp RPCResponse) ErrorData {
	t.Helper()
	require.NotNil(t, resp.Error)
	raw, err := json.Marshal(resp.Error.Data)
	require.NoError(t, err)
	var data ErrorData
	require.NoError(t, json.Unmarshal(raw, &data))
	return data
}

func (e *testEnv) execute(t *testing.T, who crypto.Address, poolAsset string, msg interface{}) (int, RPCResponse) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return e.call(t, token(t, who), "mm_execute", ExecuteParams{Contract: e.deployment.Pools[poolAsset], Msg: raw})
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "ok", rec.Body.String())

	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "mm_ledger_tx_total")
}

func TestExecuteRequiresToken(t *testing.T) {
	env := newTestEnv(t, nil)
	status, resp := env.call(t, "", "mm_execute", ExecuteParams{Contract: env.deployment.Pools["ATOM"], Msg: json.RawMessage(`{"deposit":{"amount":"1"}}`)})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, codeUnauthorized, resp.Error.Code)

	forged, err := IssueToken("other-secret", alice, time.Hour)
	require.NoError(t, err)
	status, resp = env.call(t, forged, "mm_execute", ExecuteParams{Contract: env.deployment.Pools["ATOM"], Msg: json.RawMessage(`{"deposit":{"amount":"1"}}`)})
	require.Equal(t, http.StatusUnauthorized, status)
	require.Equal(t, "invalid token", resp.Error.Message)

	expired, err := IssueToken(testSecret, alice, -time.Hour)
	require.NoError(t, err)
	status, _ = env.call(t, expired, "mm_execute", ExecuteParams{Contract: env.deployment.Pools["ATOM"], Msg: json.RawMessage(`{"deposit":{"amount":"1"}}`)})
	require.Equal(t, http.StatusUnauthorized, status)
}

func TestBorrowFlowOverRPC(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.execute(t, bob, "USDC", pool.ExecuteMsg{Deposit: &pool.AmountMsg{Amount: "10000"}})
	require.Equal(t, http.StatusOK, status, resp.Error)
	status, _ = env.execute(t, alice, "ATOM", pool.ExecuteMsg{Deposit: &pool.AmountMsg{Amount: "100"}})
	require.Equal(t, http.StatusOK, status)
	status, _ = env.call(t, token(t, alice), "mm_execute", ExecuteParams{
		Contract: env.deployment.Risk,
		Msg:      json.RawMessage(`{"enter_market":{"asset_id":"ATOM"}}`),
	})
	require.Equal(t, http.StatusOK, status)

	status, resp = env.execute(t, alice, "USDC", pool.ExecuteMsg{Borrow: &pool.AmountMsg{Amount: "600"}})
	require.Equal(t, http.StatusUnprocessableEntity, status)
	require.Equal(t, codeSolvency, resp.Error.Code)
	data := errorData(t, resp)
	require.Equal(t, "solvency", data.Kind)
	require.Equal(t, "BorrowUnsafe", data.Code)
	require.Equal(t, "500", data.Fields["collateral_value"])

	status, resp = env.execute(t, alice, "USDC", pool.ExecuteMsg{Borrow: &pool.AmountMsg{Amount: "400"}})
	require.Equal(t, http.StatusOK, status)
	var receipt core.Receipt
	decodeResult(t, resp, &receipt)
	require.Len(t, receipt.Transfers, 1)

	status, resp = env.call(t, "", "mm_query", QueryParams{
		Contract: env.deployment.Pools["USDC"],
		Msg:      json.RawMessage(fmt.Sprintf(`{"get_balances":{"user":%q}}`, alice.String())),
	})
	require.Equal(t, http.StatusOK, status)
	var balances pool.BalancesResponse
	decodeResult(t, resp, &balances)
	require.Equal(t, "400", balances.BorrowedBalance)

	status, resp = env.call(t, "", "mm_pendingTransfers", PendingTransfersParams{Recipient: alice.String()})
	require.Equal(t, http.StatusOK, status)
	var pending PendingTransfersResult
	decodeResult(t, resp, &pending)
	require.Len(t, pending.Transfers, 1)
	require.Equal(t, "400", pending.Transfers[0].Amount)
	require.Equal(t, "uusdc", pending.Transfers[0].Denom)

	status, _ = env.call(t, token(t, alice), "mm_markSettled", MarkSettledParams{ID: pending.Transfers[0].ID})
	require.Equal(t, http.StatusForbidden, status)
	status, _ = env.call(t, token(t, admin), "mm_markSettled", MarkSettledParams{ID: pending.Transfers[0].ID})
	require.Equal(t, http.StatusOK, status)
	status, resp = env.call(t, token(t, admin), "mm_markSettled", MarkSettledParams{ID: pending.Transfers[0].ID})
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeNotFound, resp.Error.Code)
}

func TestSetPriceRequiresAdmin(t *testing.T) {
	env := newTestEnv(t, nil)
	params := map[string]string{"asset_id": "atom", "price": "12.5"}

	status, resp := env.call(t, token(t, alice), "mm_setPrice", params)
	require.Equal(t, http.StatusForbidden, status)
	require.Equal(t, "unauthorized", errorData(t, resp).Kind)

	status, _ = env.call(t, token(t, admin), "mm_setPrice", params)
	require.Equal(t, http.StatusOK, status)

	_, resp = env.call(t, "", "mm_prices")
	var prices PricesResult
	decodeResult(t, resp, &prices)
	require.Len(t, prices.Quotes, 2)
	require.Equal(t, "ATOM", prices.Quotes[0].AssetID)
	require.Equal(t, "12.5", prices.Quotes[0].Price.String())
}

func TestContractsListing(t *testing.T) {
	env := newTestEnv(t, nil)
	status, resp := env.call(t, "", "mm_contracts")
	require.Equal(t, http.StatusOK, status)
	var result ContractsResult
	decodeResult(t, resp, &result)
	require.Len(t, result.Contracts, 3)
	require.Equal(t, "risk", result.Contracts[0].Code)
	require.Equal(t, uint64(5), result.Height)
}

func TestRequestValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	status, resp := env.post(t, "", []byte(`{"jsonrpc":"2.0","method":"mm_nope","id":1}`))
	require.Equal(t, http.StatusNotFound, status)
	require.Equal(t, codeMethodNotFound, resp.Error.Code)

	status, resp = env.post(t, "", []byte(`{not json`))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeParseError, resp.Error.Code)

	status, resp = env.post(t, "", []byte(`{"jsonrpc":"1.0","method":"mm_contracts","id":1}`))
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)

	status, resp = env.call(t, "", "mm_query", map[string]string{"contract": env.deployment.Risk.String(), "extra": "x"})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, codeInvalidParams, resp.Error.Code)

	big := `{"jsonrpc":"2.0","method":"mm_contracts","id":1,"pad":"` + strings.Repeat("a", maxRequestBytes) + `"}`
	status, resp = env.post(t, "", []byte(big))
	require.Equal(t, http.StatusRequestEntityTooLarge, status)
	require.Equal(t, codeInvalidRequest, resp.Error.Code)
}

func TestRateLimitPerSource(t *testing.T) {
	env := newTestEnv(t, func(cfg *ServerConfig) {
		cfg.RateLimitPerSecond = 0.001
		cfg.RateBurst = 2
	})
	for i := 0; i < 2; i++ {
		status, _ := env.call(t, "", "mm_contracts")
		require.Equal(t, http.StatusOK, status)
	}
	status, resp := env.call(t, "", "mm_contracts")
	require.Equal(t, http.StatusTooManyRequests, status)
	require.Equal(t, codeRateLimited, resp.Error.Code)
}

func TestForwardedForNeedsTrustedProxy(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	require.Equal(t, "10.0.0.1", clientSource(req, false))
	require.Equal(t, "203.0.113.7", clientSource(req, true))

	req.Header.Set("X-Forwarded-For", "garbage")
	require.Equal(t, "10.0.0.1", clientSource(req, true))

	body, err := json.Marshal(RPCRequest{JSONRPC: jsonRPCVersion, Method: "mm_contracts", Params: []json.RawMessage{}, ID: 1})
	require.NoError(t, err)
	send := func(env *testEnv, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		env.handler.ServeHTTP(rec, req)
		return rec.Code
	}
	limited := func(cfg *ServerConfig) {
		cfg.RateLimitPerSecond = 0.001
		cfg.RateBurst = 1
	}

	// A spoofed header does not buy a fresh bucket.
	env := newTestEnv(t, limited)
	require.Equal(t, http.StatusOK, send(env, "198.51.100.1"))
	require.Equal(t, http.StatusTooManyRequests, send(env, "198.51.100.2"))

	env = newTestEnv(t, func(cfg *ServerConfig) {
		limited(cfg)
		cfg.TrustForwardedFor = true
	})
	require.Equal(t, http.StatusOK, send(env, "198.51.100.1"))
	require.Equal(t, http.StatusOK, send(env, "198.51.100.2"))
	require.Equal(t, http.StatusTooManyRequests, send(env, "198.51.100.1"))
}
