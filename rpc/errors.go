package rpc

import (
	"net/http"

	nativecommon "moneymarket/native/common"
)

type kindMapping struct {
	status int
	code   int
}

var kindMappings = map[nativecommon.Kind]kindMapping{
	nativecommon.KindValidation:          {http.StatusBadRequest, codeInvalidParams},
	nativecommon.KindNotFound:            {http.StatusNotFound, codeNotFound},
	nativecommon.KindInsufficientBalance: {http.StatusUnprocessableEntity, codeInsufficientBalance},
	nativecommon.KindNoOutstandingDebt:   {http.StatusUnprocessableEntity, codeNoOutstandingDebt},
	nativecommon.KindSolvency:            {http.StatusUnprocessableEntity, codeSolvency},
	nativecommon.KindPriceUnavailable:    {http.StatusServiceUnavailable, codePriceUnavailable},
	nativecommon.KindUninitialized:       {http.StatusConflict, codeUninitialized},
	nativecommon.KindUnauthorized:        {http.StatusForbidden, codeForbidden},
	nativecommon.KindPaused:              {http.StatusServiceUnavailable, codePaused},
	nativecommon.KindInternal:            {http.StatusInternalServerError, codeServerError},
}

// writeContractError reports an error raised while executing or querying a
// contract. Structured errors keep their kind, code and fields.
func writeContractError(w http.ResponseWriter, id interface{}, err error) int {
	typed, ok := nativecommon.AsError(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, id, codeServerError, err.Error(), nil)
		return codeServerError
	}
	mapping, ok := kindMappings[typed.Kind]
	if !ok {
		mapping = kindMapping{http.StatusInternalServerError, codeServerError}
	}
	writeError(w, mapping.status, id, mapping.code, err.Error(), ErrorData{
		Kind:   string(typed.Kind),
		Code:   typed.Code,
		Fields: typed.Fields,
	})
	return mapping.code
}
