package rpc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"moneymarket/core"
	"moneymarket/core/pricing"
	"moneymarket/core/types"
	"moneymarket/crypto"
	nativecommon "moneymarket/native/common"
	"moneymarket/settlement"
)

// Authorizer actions checked by the server.
const (
	ActionSetPrice    = "pricing.set_price"
	ActionMarkSettled = "settlement.mark_settled"
)

type ExecuteParams struct {
	Contract crypto.Address  `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
}

type InstantiateParams struct {
	Code  string          `json:"code"`
	Label string          `json:"label"`
	Msg   json.RawMessage `json:"msg"`
}

type QueryParams struct {
	Contract crypto.Address  `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
}

type SetPriceParams struct {
	AssetID string        `json:"asset_id"`
	Price   types.Decimal `json:"price"`
}

type PendingTransfersParams struct {
	Recipient string `json:"recipient,omitempty"`
}

type MarkSettledParams struct {
	ID uuid.UUID `json:"id"`
}

type ContractsResult struct {
	Height    uint64               `json:"height"`
	Contracts []*core.ContractInfo `json:"contracts"`
}

type PricesResult struct {
	Quotes []pricing.Quote `json:"quotes"`
}

type PendingTransfersResult struct {
	Transfers []settlement.TransferRecord `json:"transfers"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) int {
	var params ExecuteParams
	if !decodeParam(w, req, &params) {
		return codeInvalidParams
	}
	receipt, err := s.ledger.Execute(r.Context(), core.Tx{
		Version:  core.TxVersion,
		Sender:   caller,
		Contract: params.Contract,
		Msg:      params.Msg,
	})
	if err != nil {
		return writeContractError(w, req.ID, err)
	}
	writeResult(w, req.ID, receipt)
	return 0
}

func (s *Server) handleInstantiate(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) int {
	var params InstantiateParams
	if !decodeParam(w, req, &params) {
		return codeInvalidParams
	}
	msg := params.Msg
	if len(msg) == 0 {
		msg = json.RawMessage(`{}`)
	}
	receipt, err := s.ledger.Instantiate(r.Context(), caller, params.Code, params.Label, msg)
	if err != nil {
		return writeContractError(w, req.ID, err)
	}
	writeResult(w, req.ID, receipt)
	return 0
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	var params QueryParams
	if !decodeParam(w, req, &params) {
		return codeInvalidParams
	}
	if params.Contract.IsZero() || len(params.Msg) == 0 {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, "contract and msg are required", nil)
		return codeInvalidParams
	}
	result, err := s.ledger.Query(r.Context(), params.Contract, params.Msg)
	if err != nil {
		return writeContractError(w, req.ID, err)
	}
	writeResult(w, req.ID, result)
	return 0
}

func (s *Server) handleContracts(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	contracts, err := s.ledger.Contracts()
	if err != nil {
		return writeContractError(w, req.ID, err)
	}
	height, err := s.ledger.Height()
	if err != nil {
		return writeContractError(w, req.ID, err)
	}
	if contracts == nil {
		contracts = []*core.ContractInfo{}
	}
	writeResult(w, req.ID, ContractsResult{Height: height, Contracts: contracts})
	return 0
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) int {
	if s.prices == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "price book not configured", nil)
		return codeServerError
	}
	var params SetPriceParams
	if !decodeParam(w, req, &params) {
		return codeInvalidParams
	}
	if err := nativecommon.Authorize(r.Context(), s.admin, ActionSetPrice, caller); err != nil {
		return writeContractError(w, req.ID, err)
	}
	if err := s.prices.SetPrice(params.AssetID, params.Price); err != nil {
		writeError(w, http.StatusBadRequest, req.ID, codeInvalidParams, err.Error(), nil)
		return codeInvalidParams
	}
	s.logger.Info("price updated", "asset_id", strings.ToUpper(strings.TrimSpace(params.AssetID)), "price", params.Price.String(), "caller", caller.String())
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return 0
}

func (s *Server) handlePrices(w http.ResponseWriter, _ *http.Request, req *RPCRequest) int {
	quotes := []pricing.Quote{}
	if s.prices != nil {
		quotes = append(quotes, s.prices.Quotes()...)
	}
	writeResult(w, req.ID, PricesResult{Quotes: quotes})
	return 0
}

func (s *Server) handlePendingTransfers(w http.ResponseWriter, r *http.Request, req *RPCRequest) int {
	if s.outbox == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "settlement outbox not configured", nil)
		return codeServerError
	}
	var params PendingTransfersParams
	if len(req.Params) > 0 && !decodeParam(w, req, &params) {
		return codeInvalidParams
	}
	records, err := s.outbox.Pending(r.Context(), strings.TrimSpace(params.Recipient))
	if err != nil {
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to load transfers", err.Error())
		return codeServerError
	}
	if records == nil {
		records = []settlement.TransferRecord{}
	}
	writeResult(w, req.ID, PendingTransfersResult{Transfers: records})
	return 0
}

func (s *Server) handleMarkSettled(w http.ResponseWriter, r *http.Request, req *RPCRequest, caller crypto.Address) int {
	if s.outbox == nil {
		writeError(w, http.StatusServiceUnavailable, req.ID, codeServerError, "settlement outbox not configured", nil)
		return codeServerError
	}
	var params MarkSettledParams
	if !decodeParam(w, req, &params) {
		return codeInvalidParams
	}
	if err := nativecommon.Authorize(r.Context(), s.admin, ActionMarkSettled, caller); err != nil {
		return writeContractError(w, req.ID, err)
	}
	if err := s.outbox.MarkSettled(r.Context(), params.ID); err != nil {
		if errors.Is(err, settlement.ErrTransferNotFound) {
			writeError(w, http.StatusNotFound, req.ID, codeNotFound, err.Error(), params.ID.String())
			return codeNotFound
		}
		writeError(w, http.StatusInternalServerError, req.ID, codeServerError, "failed to update transfer", err.Error())
		return codeServerError
	}
	writeResult(w, req.ID, map[string]bool{"ok": true})
	return 0
}
