package core

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/settlement"
	"moneymarket/storage"
)

var errBoom = errors.New("boom")

// counter stores a running total. Messages are {"add":n,"fail":bool,"pay":n};
// forward/then queues a call to another contract and loop re-sends the
// message to the counter itself.
type counter struct{}

type counterMsg struct {
	Add     uint64          `json:"add"`
	Fail    bool            `json:"fail"`
	Pay     uint64          `json:"pay"`
	Forward *crypto.Address `json:"forward,omitempty"`
	Then    json.RawMessage `json:"then,omitempty"`
	Loop    bool            `json:"loop,omitempty"`
}

var totalKey = []byte("total")

func (counter) Instantiate(_ context.Context, env Env, _ json.RawMessage) (*types.Response, error) {
	return &types.Response{}, env.Store.KVPut(totalKey, uint64(0))
}

func (counter) Execute(_ context.Context, env Env, raw json.RawMessage) (*types.Response, error) {
	var msg counterMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	var total uint64
	if _, err := env.Store.KVGet(totalKey, &total); err != nil {
		return nil, err
	}
	if err := env.Store.KVPut(totalKey, total+msg.Add); err != nil {
		return nil, err
	}
	if msg.Fail {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "Boom", errBoom)
	}
	resp := &types.Response{}
	resp.AddEvent(types.NewEvent("counter.add", "sender", env.Sender.String()))
	if msg.Pay > 0 {
		resp.AddTransfer(types.Transfer{Recipient: env.Sender, Denom: "ucnt", Amount: uint256.NewInt(msg.Pay)})
	}
	if msg.Forward != nil {
		resp.AddMessage(types.Message{Contract: *msg.Forward, Msg: msg.Then})
	}
	if msg.Loop {
		resp.AddMessage(types.Message{Contract: env.Contract, Msg: raw})
	}
	return resp, nil
}

func (counter) Query(_ context.Context, env QueryEnv, _ json.RawMessage) (json.RawMessage, error) {
	var total uint64
	if _, err := env.Store.KVGet(totalKey, &total); err != nil {
		return nil, err
	}
	return json.Marshal(total)
}

func (counter) ActionName(json.RawMessage) string { return "add" }

// echo forwards every query to itself, so it only stops at the depth limit.
type echo struct{}

func (echo) Instantiate(context.Context, Env, json.RawMessage) (*types.Response, error) {
	return nil, nil
}

func (echo) Execute(ctx context.Context, env Env, raw json.RawMessage) (*types.Response, error) {
	if _, err := env.Querier.QueryContract(ctx, env.Contract, raw); err != nil {
		return nil, err
	}
	return nil, nil
}

func (echo) Query(ctx context.Context, env QueryEnv, raw json.RawMessage) (json.RawMessage, error) {
	return env.Querier.QueryContract(ctx, env.Contract, raw)
}

func account(b byte) crypto.Address {
	raw := make([]byte, crypto.AddressLength)
	raw[0] = b
	return crypto.NewAddress(crypto.AccountPrefix, raw)
}

type harness struct {
	ledger  *Ledger
	sink    *settlement.MemorySink
	counter crypto.Address
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	sink := settlement.NewMemorySink()
	ledger := NewLedger(storage.NewMemDB(), append([]Option{WithSink(sink)}, opts...)...)
	ledger.RegisterCode("counter", counter{})
	ledger.RegisterCode("echo", echo{})
	receipt, err := ledger.Instantiate(context.Background(), account(1), "counter", "main", json.RawMessage(`{}`))
	require.NoError(t, err)
	return &harness{ledger: ledger, sink: sink, counter: receipt.Contract}
}

func (h *harness) tx(msg string) Tx {
	return Tx{Version: TxVersion, Sender: account(2), Contract: h.counter, Msg: json.RawMessage(msg)}
}

func (h *harness) total(t *testing.T) string {
	t.Helper()
	raw, err := h.ledger.Query(context.Background(), h.counter, json.RawMessage(`{}`))
	require.NoError(t, err)
	return string(raw)
}

func TestExecuteCommitsAndAdvancesHeight(t *testing.T) {
	h := newHarness(t)
	receipt, err := h.ledger.Execute(context.Background(), h.tx(`{"add":5,"pay":3}`))
	require.NoError(t, err)
	require.Equal(t, uint64(2), receipt.Height)
	require.NotEmpty(t, receipt.TxID)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, "counter.add", receipt.Events[0].Type)
	require.Len(t, h.sink.Batch(receipt.TxID), 1)
	require.Equal(t, "5", h.total(t))

	height, err := h.ledger.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(2), height)
}

func TestFailedExecuteLeavesNoTrace(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.Execute(context.Background(), h.tx(`{"add":5,"fail":true}`))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, "0", h.total(t))

	height, err := h.ledger.Height()
	require.NoError(t, err)
	require.Equal(t, uint64(1), height)
}

func TestSettlementFailureDiscardsWrites(t *testing.T) {
	h := newHarness(t)
	h.sink.FailWith(errors.New("unavailable"))
	_, err := h.ledger.Execute(context.Background(), h.tx(`{"add":5,"pay":1}`))
	require.Error(t, err)
	typed, ok := nativecommon.AsError(err)
	require.True(t, ok)
	require.Equal(t, "SettlementFailed", typed.Code)
	require.Equal(t, "0", h.total(t))
	require.Empty(t, h.sink.Transfers())

	// Transactions without transfers never reach the sink.
	_, err = h.ledger.Execute(context.Background(), h.tx(`{"add":1}`))
	require.NoError(t, err)
	require.Equal(t, "1", h.total(t))
}

func TestExecuteValidatesEnvelope(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tx := h.tx(`{"add":1}`)
	tx.Version = 2
	_, err := h.ledger.Execute(ctx, tx)
	require.ErrorIs(t, err, ErrInvalidTx)

	tx = h.tx(`{"add":1}`)
	tx.Sender = crypto.Address{}
	_, err = h.ledger.Execute(ctx, tx)
	require.ErrorIs(t, err, ErrInvalidTx)

	tx = h.tx(`{"add":1}`)
	tx.Contract = crypto.ContractAddress("counter", "missing")
	_, err = h.ledger.Execute(ctx, tx)
	require.ErrorIs(t, err, ErrContractNotFound)
	require.Equal(t, nativecommon.KindNotFound, nativecommon.KindOf(err))
}

func TestInstantiateRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.ledger.Instantiate(ctx, account(1), "counter", "main", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrContractExists)

	_, err = h.ledger.Instantiate(ctx, account(1), "nope", "x", json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrUnknownCode)

	receipt, err := h.ledger.Instantiate(ctx, account(1), "COUNTER", "second", json.RawMessage(`{}`))
	require.NoError(t, err)
	require.True(t, receipt.Contract.Equal(crypto.ContractAddress("counter", "second")))

	contracts, err := h.ledger.Contracts()
	require.NoError(t, err)
	require.Len(t, contracts, 2)
	require.Equal(t, "main", contracts[0].Label)
	require.Equal(t, "second", contracts[1].Label)

	info, err := h.ledger.Contract(receipt.Contract)
	require.NoError(t, err)
	require.Equal(t, "counter", info.Code)
	require.True(t, info.Creator.Equal(account(1)))
}

func TestInstantiateAuthorizer(t *testing.T) {
	h := newHarness(t, WithInstantiateAuthorizer(nativecommon.NewAdminSet(account(1))))
	_, err := h.ledger.Instantiate(context.Background(), account(9), "counter", "other", json.RawMessage(`{}`))
	require.ErrorIs(t, err, nativecommon.ErrUnauthorized)
}

func TestQueryDepthIsBounded(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	receipt, err := h.ledger.Instantiate(ctx, account(1), "echo", "loop", json.RawMessage(`{}`))
	require.NoError(t, err)

	_, err = h.ledger.Query(ctx, receipt.Contract, json.RawMessage(`{}`))
	require.ErrorIs(t, err, ErrQueryDepth)

	_, err = h.ledger.Execute(ctx, Tx{Version: TxVersion, Sender: account(2), Contract: receipt.Contract, Msg: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrQueryDepth)
}

func TestMessagesRunInsideTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	receipt, err := h.ledger.Instantiate(ctx, account(1), "counter", "second", json.RawMessage(`{}`))
	require.NoError(t, err)
	second := receipt.Contract

	forward := func(then string) string {
		raw, err := json.Marshal(counterMsg{Add: 1, Forward: &second, Then: json.RawMessage(then)})
		require.NoError(t, err)
		return string(raw)
	}

	receipt, err = h.ledger.Execute(ctx, h.tx(forward(`{"add":2,"pay":4}`)))
	require.NoError(t, err)
	require.Len(t, receipt.Events, 2)
	require.Equal(t, account(2).String(), receipt.Events[0].Attributes["sender"])
	require.Equal(t, h.counter.String(), receipt.Events[1].Attributes["sender"])
	require.Len(t, receipt.Transfers, 1)
	require.True(t, receipt.Transfers[0].Recipient.Equal(h.counter))
	require.Len(t, h.sink.Batch(receipt.TxID), 1)
	require.Equal(t, "1", h.total(t))

	raw, err := h.ledger.Query(ctx, second, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, "2", string(raw))

	// A failing callee rolls back the caller as well.
	_, err = h.ledger.Execute(ctx, h.tx(forward(`{"add":2,"fail":true}`)))
	require.ErrorIs(t, err, errBoom)
	require.Equal(t, "1", h.total(t))
	raw, err = h.ledger.Query(ctx, second, json.RawMessage(`{}`))
	require.NoError(t, err)
	require.Equal(t, "2", string(raw))

	_, err = h.ledger.Execute(ctx, h.tx(forward(`{}`)))
	require.NoError(t, err)
	missing := crypto.ContractAddress("counter", "missing")
	raw, err = json.Marshal(counterMsg{Forward: &missing, Then: json.RawMessage(`{}`)})
	require.NoError(t, err)
	_, err = h.ledger.Execute(ctx, h.tx(string(raw)))
	require.ErrorIs(t, err, ErrContractNotFound)
}

func TestMessageDepthIsBounded(t *testing.T) {
	h := newHarness(t)
	_, err := h.ledger.Execute(context.Background(), h.tx(`{"add":1,"loop":true}`))
	require.ErrorIs(t, err, ErrMessageDepth)
	require.Equal(t, "0", h.total(t))
}
