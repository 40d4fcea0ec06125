package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"moneymarket/core/state"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/observability"
	mmotel "moneymarket/observability/otel"
	"moneymarket/settlement"
	"moneymarket/storage"
)

// TxVersion is the only transaction envelope version accepted.
const TxVersion = 1

// ActionInstantiate is the authorizer action guarding contract creation.
const ActionInstantiate = "ledger.instantiate"

var ErrInvalidTx = errors.New("ledger: invalid transaction")

// Tx is the versioned envelope of a contract call.
type Tx struct {
	Version  uint32          `json:"version"`
	Sender   crypto.Address  `json:"sender"`
	Contract crypto.Address  `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
}

// Receipt describes a committed transaction.
type Receipt struct {
	TxID      string           `json:"tx_id"`
	Height    uint64           `json:"height"`
	Contract  crypto.Address   `json:"contract"`
	Events    []types.Event    `json:"events"`
	Transfers []types.Transfer `json:"transfers"`
	Data      json.RawMessage  `json:"data,omitempty"`
}

// Ledger hosts contracts over a key-value database. Transactions run one at a
// time; every write of a transaction is buffered and either committed as a
// single batch or discarded.
type Ledger struct {
	mu     sync.RWMutex
	db     storage.Database
	codes  map[string]Contract
	sink   settlement.Sink
	auth   nativecommon.Authorizer
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithSink routes transfer instructions to sink. Without one, instructions
// are only reported in receipts.
func WithSink(sink settlement.Sink) Option {
	return func(l *Ledger) { l.sink = sink }
}

// WithInstantiateAuthorizer gates contract creation.
func WithInstantiateAuthorizer(a nativecommon.Authorizer) Option {
	return func(l *Ledger) { l.auth = a }
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// NewLedger opens a ledger over db.
func NewLedger(db storage.Database, opts ...Option) *Ledger {
	l := &Ledger{
		db:     db,
		codes:  make(map[string]Contract),
		logger: slog.Default(),
		tracer: mmotel.Tracer(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// RegisterCode makes a contract implementation available under name.
func (l *Ledger) RegisterCode(name string, contract Contract) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.codes[strings.ToLower(strings.TrimSpace(name))] = contract
}

func (l *Ledger) code(name string) (Contract, error) {
	contract, ok := l.codes[name]
	if !ok {
		return nil, nativecommon.NewError(nativecommon.KindNotFound, "UnknownCode", ErrUnknownCode, "code", name)
	}
	return contract, nil
}

// Height returns the height of the last committed transaction.
func (l *Ledger) Height() (uint64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return loadHeight(state.NewView(l.db, state.LedgerNamespace))
}

// Contracts lists every instantiated contract.
func (l *Ledger) Contracts() ([]*ContractInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return listContracts(state.NewView(l.db, state.LedgerNamespace))
}

// Contract returns the registry entry for addr.
func (l *Ledger) Contract(addr crypto.Address) (*ContractInfo, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return loadContract(state.NewView(l.db, state.LedgerNamespace), addr)
}

// Query runs a read-only query against committed state.
func (l *Ledger) Query(ctx context.Context, contract crypto.Address, msg json.RawMessage) (json.RawMessage, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	height, err := loadHeight(state.NewView(l.db, state.LedgerNamespace))
	if err != nil {
		return nil, err
	}
	router := &queryRouter{ledger: l, db: l.db, height: height}
	return router.QueryContract(ctx, contract, msg)
}

// Instantiate creates a contract of the given code at the address derived
// from code and label.
func (l *Ledger) Instantiate(ctx context.Context, sender crypto.Address, codeName, label string, msg json.RawMessage) (*Receipt, error) {
	codeName = strings.ToLower(strings.TrimSpace(codeName))
	label = strings.TrimSpace(label)
	if sender.IsZero() || codeName == "" || label == "" {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidTx", ErrInvalidTx, "reason", "sender, code and label are required")
	}
	if err := nativecommon.Authorize(ctx, l.auth, ActionInstantiate, sender); err != nil {
		return nil, err
	}
	addr := crypto.ContractAddress(codeName, label)

	return l.apply(ctx, codeName, "instantiate", addr, func(ctx context.Context, overlay *storage.Overlay, height uint64, txID string) (*types.Response, error) {
		code, err := l.code(codeName)
		if err != nil {
			return nil, err
		}
		ledgerStore := state.NewManager(overlay, state.LedgerNamespace)
		if _, err := loadContract(ledgerStore, addr); err == nil {
			return nil, nativecommon.NewError(nativecommon.KindValidation, "ContractExists", ErrContractExists, "contract", addr.String())
		} else if nativecommon.KindOf(err) != nativecommon.KindNotFound {
			return nil, err
		}
		if err := storeContract(ledgerStore, &ContractInfo{Address: addr, Code: codeName, Label: label, Creator: sender, Height: height}); err != nil {
			return nil, err
		}
		resp, err := code.Instantiate(ctx, l.env(overlay, height, txID, sender, addr), msg)
		if err != nil {
			return nil, err
		}
		return resp, l.dispatch(ctx, overlay, height, txID, addr, resp, 1)
	})
}

// Execute runs tx. On any failure, including settlement, nothing is
// persisted.
func (l *Ledger) Execute(ctx context.Context, tx Tx) (*Receipt, error) {
	if tx.Version != TxVersion {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "UnsupportedVersion", ErrInvalidTx, "version", fmt.Sprintf("%d", tx.Version))
	}
	if tx.Sender.IsZero() || tx.Contract.IsZero() || len(tx.Msg) == 0 {
		return nil, nativecommon.NewError(nativecommon.KindValidation, "InvalidTx", ErrInvalidTx, "reason", "sender, contract and msg are required")
	}

	l.mu.RLock()
	info, err := loadContract(state.NewView(l.db, state.LedgerNamespace), tx.Contract)
	var code Contract
	if err == nil {
		code, err = l.code(info.Code)
	}
	l.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	action := "execute"
	if namer, ok := code.(ActionNamer); ok {
		action = namer.ActionName(tx.Msg)
	}

	return l.apply(ctx, info.Code, action, tx.Contract, func(ctx context.Context, overlay *storage.Overlay, height uint64, txID string) (*types.Response, error) {
		resp, err := code.Execute(ctx, l.env(overlay, height, txID, tx.Sender, tx.Contract), tx.Msg)
		if err != nil {
			return nil, err
		}
		return resp, l.dispatch(ctx, overlay, height, txID, tx.Contract, resp, 1)
	})
}

// dispatch runs the messages queued on resp depth first, each with from as
// its sender. Events and transfers of the callees are appended to resp; any
// failure aborts the whole transaction.
func (l *Ledger) dispatch(ctx context.Context, overlay *storage.Overlay, height uint64, txID string, from crypto.Address, resp *types.Response, depth int) error {
	if resp == nil || len(resp.Messages) == 0 {
		return nil
	}
	if depth > MaxMessageDepth {
		return nativecommon.NewError(nativecommon.KindInternal, "MessageDepthExceeded", ErrMessageDepth, "contract", from.String())
	}
	messages := resp.Messages
	resp.Messages = nil
	ledgerStore := state.NewView(overlay, state.LedgerNamespace)
	for _, m := range messages {
		info, err := loadContract(ledgerStore, m.Contract)
		if err != nil {
			return err
		}
		code, err := l.code(info.Code)
		if err != nil {
			return err
		}
		child, err := code.Execute(ctx, l.env(overlay, height, txID, from, m.Contract), m.Msg)
		if err != nil {
			return err
		}
		if child == nil {
			continue
		}
		if err := l.dispatch(ctx, overlay, height, txID, m.Contract, child, depth+1); err != nil {
			return err
		}
		resp.Events = append(resp.Events, child.Events...)
		resp.Transfers = append(resp.Transfers, child.Transfers...)
	}
	return nil
}

func (l *Ledger) env(overlay *storage.Overlay, height uint64, txID string, sender, contract crypto.Address) Env {
	return Env{
		Height:   height,
		TxID:     txID,
		Sender:   sender,
		Contract: contract,
		Store:    state.NewManager(overlay, state.ContractNamespace(contract)),
		Querier:  &queryRouter{ledger: l, db: overlay, height: height},
	}
}

type txFunc func(ctx context.Context, overlay *storage.Overlay, height uint64, txID string) (*types.Response, error)

// apply runs fn inside a fresh overlay and commits it together with the new
// height once settlement has accepted the transfers.
func (l *Ledger) apply(ctx context.Context, codeName, action string, contract crypto.Address, fn txFunc) (receipt *Receipt, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	start := l.now()
	txID := uuid.NewString()
	ctx, span := l.tracer.Start(ctx, "ledger."+action, trace.WithAttributes(
		attribute.String("tx.id", txID),
		attribute.String("contract.code", codeName),
		attribute.String("contract.address", contract.String()),
	))
	logger := l.logger.With(slog.String("tx_id", txID), slog.String("contract", contract.String()), slog.String("action", action))
	defer func() {
		outcome := "committed"
		if err != nil {
			outcome = string(nativecommon.KindOf(err))
			if typed, ok := nativecommon.AsError(err); ok && typed.Kind == nativecommon.KindSolvency {
				observability.Ledger().RecordSolvencyRejection(typed.Code)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Info("transaction rejected", slog.String("error", err.Error()))
		}
		observability.Ledger().ObserveTx(codeName, action, outcome, l.now().Sub(start))
		span.End()
	}()

	overlay := storage.NewOverlay(l.db)
	ledgerStore := state.NewManager(overlay, state.LedgerNamespace)
	height, err := loadHeight(ledgerStore)
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	height++

	resp, err := fn(ctx, overlay, height, txID)
	if err != nil {
		overlay.Discard()
		return nil, err
	}
	if resp == nil {
		resp = &types.Response{}
	}
	if err := ledgerStore.KVPut(heightKey, height); err != nil {
		overlay.Discard()
		return nil, err
	}
	if l.sink != nil && len(resp.Transfers) > 0 {
		if err := l.sink.Settle(ctx, txID, resp.Transfers); err != nil {
			overlay.Discard()
			return nil, nativecommon.NewError(nativecommon.KindInternal, "SettlementFailed", fmt.Errorf("ledger: settlement: %w", err))
		}
	}
	if err := overlay.Commit(); err != nil {
		if l.sink != nil && len(resp.Transfers) > 0 {
			if revertErr := l.sink.Revert(ctx, txID); revertErr != nil {
				logger.Error("settlement revert failed", slog.String("error", revertErr.Error()))
			}
		}
		return nil, fmt.Errorf("ledger: commit: %w", err)
	}

	for _, transfer := range resp.Transfers {
		observability.Ledger().RecordTransfer(transfer.Denom)
	}
	observability.Ledger().SetHeight(height)
	span.SetAttributes(attribute.Int64("ledger.height", int64(height)))
	logger.Info("transaction committed", slog.Uint64("height", height), slog.Int("transfers", len(resp.Transfers)))

	return &Receipt{
		TxID:      txID,
		Height:    height,
		Contract:  contract,
		Events:    resp.Events,
		Transfers: resp.Transfers,
		Data:      resp.Data,
	}, nil
}
