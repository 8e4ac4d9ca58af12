// Package engine owns event sequencing, the closed Event/EventType sum,
// snapshot capture, and the Process/Replay entry points. It is the only
// package that turns a risk.Decision or a risk.LiquidationFill into a
// logged, sequenced, snapshotted fact.
package engine

import (
	"encoding/json"
	"fmt"

	"github.com/epic1st/crossmargin/internal/core"
	"github.com/shopspring/decimal"
)

// EventType is the closed sum of the eight event variants the engine
// understands. It is sealed (the eventKind method is unexported) so no
// package outside engine can introduce a spurious ninth variant; each
// variant is an exported struct type instead.
type EventType interface {
	eventKind() string
}

// Deposit credits collateral to an account, creating it if necessary.
type Deposit struct {
	AccountID core.AccountId
	Amount    decimal.Decimal
}

func (Deposit) eventKind() string { return "Deposit" }

// Withdraw debits collateral from an account, subject to a risk check.
type Withdraw struct {
	AccountID core.AccountId
	Amount    decimal.Decimal
}

func (Withdraw) eventKind() string { return "Withdraw" }

// TradeFill applies a signed fill against an account's position in a
// market, subject to a risk check.
type TradeFill struct {
	AccountID core.AccountId
	MarketID  core.MarketId
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

func (TradeFill) eventKind() string { return "TradeFill" }

// MarkPriceUpdate sets a market's mark price.
type MarkPriceUpdate struct {
	MarketID core.MarketId
	Price    decimal.Decimal
}

func (MarkPriceUpdate) eventKind() string { return "MarkPriceUpdate" }

// FundingUpdate sets a market's cumulative funding index and settles the
// delta against every account holding an open position in that market.
type FundingUpdate struct {
	MarketID           core.MarketId
	NewCumulativeIndex decimal.Decimal
}

func (FundingUpdate) eventKind() string { return "FundingUpdate" }

// LiquidationFill is a forced close produced by the liquidation scan; it
// is applied with no further risk check.
type LiquidationFill struct {
	AccountID core.AccountId
	MarketID  core.MarketId
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

func (LiquidationFill) eventKind() string { return "LiquidationFill" }

// TradeRejected is an informational record of a TradeFill the risk check
// refused. It carries no state mutation.
type TradeRejected struct {
	AccountID core.AccountId
	MarketID  core.MarketId
	Quantity  decimal.Decimal
	Price     decimal.Decimal
	Reason    string
}

func (TradeRejected) eventKind() string { return "TradeRejected" }

// WithdrawalRejected is an informational record of a Withdraw the risk
// check refused. It carries no state mutation.
type WithdrawalRejected struct {
	AccountID core.AccountId
	Amount    decimal.Decimal
	Reason    string
}

func (WithdrawalRejected) eventKind() string { return "WithdrawalRejected" }

// Event is a sequenced, logged occurrence: a monotonically assigned
// sequence number plus the variant that occurred at that sequence.
type Event struct {
	Sequence uint64
	Type     EventType
}

// wireEventType is the flat, tagged JSON shape of EventType on the wire.
// Decimal fields are pointers so that encoding/json's omitempty elides
// fields that don't apply to a given variant instead of emitting a
// spurious "0".
type wireEventType struct {
	Kind               string           `json:"type"`
	AccountID          core.AccountId   `json:"account_id,omitempty"`
	MarketID           core.MarketId    `json:"market_id,omitempty"`
	Amount             *decimal.Decimal `json:"amount,omitempty"`
	Quantity           *decimal.Decimal `json:"quantity,omitempty"`
	Price              *decimal.Decimal `json:"price,omitempty"`
	NewCumulativeIndex *decimal.Decimal `json:"new_cumulative_index,omitempty"`
	Reason             string           `json:"reason,omitempty"`
}

type wireEvent struct {
	Sequence  uint64        `json:"sequence"`
	EventType wireEventType `json:"event_type"`
}

func ptr(d decimal.Decimal) *decimal.Decimal { return &d }

// MarshalJSON renders the event in the wire format: {"sequence":N,
// "event_type":{"type":"...", ...fields}}. Every variant is handled
// explicitly; an unreachable default guards against a future variant
// added to the interface without a matching case here.
func (e Event) MarshalJSON() ([]byte, error) {
	var w wireEventType
	switch v := e.Type.(type) {
	case Deposit:
		w = wireEventType{Kind: "Deposit", AccountID: v.AccountID, Amount: ptr(v.Amount)}
	case Withdraw:
		w = wireEventType{Kind: "Withdraw", AccountID: v.AccountID, Amount: ptr(v.Amount)}
	case TradeFill:
		w = wireEventType{Kind: "TradeFill", AccountID: v.AccountID, MarketID: v.MarketID, Quantity: ptr(v.Quantity), Price: ptr(v.Price)}
	case MarkPriceUpdate:
		w = wireEventType{Kind: "MarkPriceUpdate", MarketID: v.MarketID, Price: ptr(v.Price)}
	case FundingUpdate:
		w = wireEventType{Kind: "FundingUpdate", MarketID: v.MarketID, NewCumulativeIndex: ptr(v.NewCumulativeIndex)}
	case LiquidationFill:
		w = wireEventType{Kind: "LiquidationFill", AccountID: v.AccountID, MarketID: v.MarketID, Quantity: ptr(v.Quantity), Price: ptr(v.Price)}
	case TradeRejected:
		w = wireEventType{Kind: "TradeRejected", AccountID: v.AccountID, MarketID: v.MarketID, Quantity: ptr(v.Quantity), Price: ptr(v.Price), Reason: v.Reason}
	case WithdrawalRejected:
		w = wireEventType{Kind: "WithdrawalRejected", AccountID: v.AccountID, Amount: ptr(v.Amount), Reason: v.Reason}
	default:
		return nil, fmt.Errorf("engine: unrecognized EventType %T", e.Type)
	}
	return json.Marshal(wireEvent{Sequence: e.Sequence, EventType: w})
}

// UnmarshalJSON parses the wire format back into an Event, dispatching on
// the "type" tag. An unrecognized tag is a parse error, never a silent
// fallback.
func (e *Event) UnmarshalJSON(data []byte) error {
	var raw wireEvent
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	zero := decimal.Zero
	get := func(p *decimal.Decimal) decimal.Decimal {
		if p == nil {
			return zero
		}
		return *p
	}
	w := raw.EventType

	var t EventType
	switch w.Kind {
	case "Deposit":
		t = Deposit{AccountID: w.AccountID, Amount: get(w.Amount)}
	case "Withdraw":
		t = Withdraw{AccountID: w.AccountID, Amount: get(w.Amount)}
	case "TradeFill":
		t = TradeFill{AccountID: w.AccountID, MarketID: w.MarketID, Quantity: get(w.Quantity), Price: get(w.Price)}
	case "MarkPriceUpdate":
		t = MarkPriceUpdate{MarketID: w.MarketID, Price: get(w.Price)}
	case "FundingUpdate":
		t = FundingUpdate{MarketID: w.MarketID, NewCumulativeIndex: get(w.NewCumulativeIndex)}
	case "LiquidationFill":
		t = LiquidationFill{AccountID: w.AccountID, MarketID: w.MarketID, Quantity: get(w.Quantity), Price: get(w.Price)}
	case "TradeRejected":
		t = TradeRejected{AccountID: w.AccountID, MarketID: w.MarketID, Quantity: get(w.Quantity), Price: get(w.Price), Reason: w.Reason}
	case "WithdrawalRejected":
		t = WithdrawalRejected{AccountID: w.AccountID, Amount: get(w.Amount), Reason: w.Reason}
	default:
		return fmt.Errorf("engine: unrecognized event type tag %q", w.Kind)
	}

	e.Sequence = raw.Sequence
	e.Type = t
	return nil
}
