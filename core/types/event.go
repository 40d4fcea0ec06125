package types

import (
	"encoding/json"
	"fmt"

	"github.com/holiman/uint256"

	"moneymarket/crypto"
)

// Event represents a typed event emitted during contract execution.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent builds an event from alternating key/value pairs.
func NewEvent(eventType string, kv ...string) Event {
	attrs := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		attrs[kv[i]] = kv[i+1]
	}
	return Event{Type: eventType, Attributes: attrs}
}

// Transfer instructs the settlement collaborator to pay Amount of Denom to
// Recipient. Contracts emit transfers; they never move funds themselves.
type Transfer struct {
	Recipient crypto.Address
	Denom     string
	Amount    *uint256.Int
}

type transferJSON struct {
	Recipient crypto.Address `json:"recipient"`
	Denom     string         `json:"denom"`
	Amount    string         `json:"amount"`
}

func (t Transfer) MarshalJSON() ([]byte, error) {
	return json.Marshal(transferJSON{Recipient: t.Recipient, Denom: t.Denom, Amount: FormatAmount(t.Amount)})
}

func (t *Transfer) UnmarshalJSON(data []byte) error {
	var raw transferJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	amount, err := ParseAmount(raw.Amount)
	if err != nil {
		return fmt.Errorf("transfer amount: %w", err)
	}
	*t = Transfer{Recipient: raw.Recipient, Denom: raw.Denom, Amount: amount}
	return nil
}

// Message is a call a contract asks the ledger to run once it returns. It
// executes inside the same transaction with the emitting contract as sender.
type Message struct {
	Contract crypto.Address  `json:"contract"`
	Msg      json.RawMessage `json:"msg"`
}

// Response is the result of a successful Instantiate or Execute call.
type Response struct {
	Events    []Event         `json:"events,omitempty"`
	Transfers []Transfer      `json:"transfers,omitempty"`
	Messages  []Message       `json:"messages,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// AddEvent appends an event and returns the response for chaining.
func (r *Response) AddEvent(ev Event) *Response {
	r.Events = append(r.Events, ev)
	return r
}

// AddTransfer appends a transfer instruction.
func (r *Response) AddTransfer(t Transfer) *Response {
	r.Transfers = append(r.Transfers, t)
	return r
}

// AddMessage queues a follow-up contract call.
func (r *Response) AddMessage(m Message) *Response {
	r.Messages = append(r.Messages, m)
	return r
}
