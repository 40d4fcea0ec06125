package contracts

import (
	"bytes"
	"encoding/json"
	"errors"

	nativecommon "moneymarket/native/common"
)

var errMalformedMsg = errors.New("contracts: malformed message")

// decodeStrict rejects unknown fields so a misspelled variant is an error
// rather than an empty message.
func decodeStrict(raw json.RawMessage, out interface{}) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(out); err != nil {
		return nativecommon.NewError(nativecommon.KindValidation, "MalformedMessage", errors.Join(errMalformedMsg, err))
	}
	return nil
}

func validation(code string, err error) error {
	return nativecommon.NewError(nativecommon.KindValidation, code, err)
}
