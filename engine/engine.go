package engine

import (
	"fmt"
	"sync"

	"github.com/epic1st/crossmargin/internal/core"
	"github.com/epic1st/crossmargin/logging"
	"github.com/epic1st/crossmargin/metrics"
	"github.com/epic1st/crossmargin/risk"
	"github.com/shopspring/decimal"
)

// Engine is the single mutating entry point over one portfolio universe.
// It owns state, the event log, the snapshot history, and the
// next-sequence counter as one unit behind a single coarse mutex — never
// fine-grained per-field locking, since an intermediate state mid-Process
// (a trade applied but its induced liquidations not yet run) violates
// every invariant the margin functions assume.
type Engine struct {
	mu           sync.Mutex
	state        *core.State
	eventLog     []Event
	snapshots    []Snapshot
	nextSequence uint64
	logger       *logging.Logger
	metrics      *metrics.Recorder
}

// Option configures an Engine at construction time.
type Option func(*Engine)

// WithLogger overrides the engine's default logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics attaches a metrics.Recorder. Without this option the
// engine's metrics field stays nil, and every Recorder method is a
// documented no-op on a nil receiver, so tests that don't care about
// metrics never need to construct a registry.
func WithMetrics(m *metrics.Recorder) Option {
	return func(e *Engine) { e.metrics = m }
}

// New returns a fresh engine with empty state and sequence counter
// starting at 1.
func New(opts ...Option) *Engine {
	e := &Engine{
		state:        core.NewState(),
		nextSequence: 1,
		logger:       logging.NewLogger(logging.INFO),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddMarket registers a market configuration. Must precede any event
// that references the market.
func (e *Engine) AddMarket(m *core.Market) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.state.AddMarket(m)
}

// Process applies one event: it assigns the next sequence number,
// appends it to the log, applies the pure state transition, snapshots,
// and — for event kinds that can change solvency — scans the affected
// accounts through liquidation. It returns every event appended as a
// result of this call (the primary event plus any rejection or
// liquidation-fill events it produced). Process never returns an error:
// a rejection is surfaced as a logged event, not an exception, so a call
// that returns has always completed fully.
func (e *Engine) Process(et EventType) []Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	var produced []Event

	seq := e.nextSequence
	e.nextSequence++
	primary := Event{Sequence: seq, Type: et}
	e.eventLog = append(e.eventLog, primary)
	produced = append(produced, primary)
	e.metrics.ObserveProcessed(et.eventKind())

	decision := applyEvent(e.state, et)

	if !decision.Ok {
		e.snapshots = append(e.snapshots, Capture(e.state, seq))

		rejSeq := e.nextSequence
		e.nextSequence++
		rejEvent := Event{Sequence: rejSeq, Type: rejectionEvent(et, decision.Reason)}
		e.eventLog = append(e.eventLog, rejEvent)
		produced = append(produced, rejEvent)
		e.snapshots = append(e.snapshots, Capture(e.state, rejSeq))

		switch et.(type) {
		case TradeFill:
			e.metrics.ObserveTradeRejected()
		case Withdraw:
			e.metrics.ObserveWithdrawalRejected()
		}
		e.logger.Info("event rejected",
			logging.Component("engine"),
			logging.Sequence(seq),
			logging.String("reason", decision.Reason))
		e.metrics.SetSequence(e.nextSequence - 1)
		return produced
	}

	e.snapshots = append(e.snapshots, Capture(e.state, seq))

	for _, aid := range accountsToScan(e.state, et) {
		fills := risk.CheckAndLiquidate(e.state, aid, &e.nextSequence)
		for _, f := range fills {
			levt := Event{
				Sequence: f.Sequence,
				Type: LiquidationFill{
					AccountID: f.AccountID,
					MarketID:  f.MarketID,
					Quantity:  f.Quantity,
					Price:     f.Price,
				},
			}
			e.eventLog = append(e.eventLog, levt)
			produced = append(produced, levt)
			e.snapshots = append(e.snapshots, Capture(e.state, f.Sequence))
			e.metrics.ObserveLiquidationFill()
			e.logger.Info("liquidation fill",
				logging.Component("engine"),
				logging.AccountID(string(f.AccountID)),
				logging.MarketID(string(f.MarketID)),
				logging.Sequence(f.Sequence))
		}
	}

	e.metrics.SetSequence(e.nextSequence - 1)
	return produced
}

// State returns a deep copy of the engine's current state. External
// callers can inspect it freely without risk of mutating engine-owned
// data outside Process.
func (e *Engine) State() *core.State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}

// EventLog returns a copy of every event processed so far, in sequence
// order.
func (e *Engine) EventLog() []Event {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Event, len(e.eventLog))
	copy(out, e.eventLog)
	return out
}

// Snapshots returns a copy of every snapshot captured so far, in
// sequence order.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Snapshot, len(e.snapshots))
	copy(out, e.snapshots)
	return out
}

// applyEvent is the single closed dispatch over event kinds; it is the
// code path that applies a logged event to state (the live liquidation
// scan in risk.CheckAndLiquidate applies its own forced closes directly
// before they are logged). It returns the Decision the risk check
// produced (always Accept for kinds with no risk check).
func applyEvent(state *core.State, et EventType) risk.Decision {
	switch v := et.(type) {
	case Deposit:
		acc := state.GetOrCreateAccount(v.AccountID)
		acc.Collateral = acc.Collateral.Add(v.Amount)
		return risk.Accept()

	case Withdraw:
		dec := risk.CheckWithdrawal(state, v.AccountID, v.Amount)
		if !dec.Ok {
			return dec
		}
		acc := state.Accounts[v.AccountID]
		acc.Collateral = acc.Collateral.Sub(v.Amount)
		return risk.Accept()

	case TradeFill:
		dec := risk.CheckTrade(state, v.AccountID, v.MarketID, v.Quantity, v.Price)
		if !dec.Ok {
			return dec
		}
		acc := state.Accounts[v.AccountID]
		core.ApplyTradeTo(&acc.Collateral, acc.Positions, v.MarketID, v.Quantity, v.Price)
		if len(acc.Positions) == 0 {
			// Same deficit bookkeeping the liquidation scan does for a
			// flat account, so replay reproduces it.
			acc.BankruptcyDeficit = decimal.Max(acc.Collateral.Neg(), decimal.Zero)
		}
		return risk.Accept()

	case MarkPriceUpdate:
		if market, ok := state.Markets[v.MarketID]; ok {
			market.MarkPrice = v.Price
		}
		return risk.Accept()

	case FundingUpdate:
		applyFundingUpdate(state, v)
		return risk.Accept()

	case LiquidationFill:
		acc := state.GetOrCreateAccount(v.AccountID)
		core.ApplyTradeTo(&acc.Collateral, acc.Positions, v.MarketID, v.Quantity, v.Price)
		if len(acc.Positions) == 0 {
			acc.BankruptcyDeficit = decimal.Max(acc.Collateral.Neg(), decimal.Zero)
		} else {
			acc.BankruptcyDeficit = decimal.Zero
		}
		return risk.Accept()

	case TradeRejected, WithdrawalRejected:
		return risk.Accept()

	default:
		return risk.Reject(fmt.Sprintf("engine: unrecognized event type %T", et))
	}
}

// applyFundingUpdate settles the cumulative funding index change against
// every account holding an open position in the updated market, in
// ascending account-id order.
func applyFundingUpdate(state *core.State, v FundingUpdate) {
	oldIndex := decimal.Zero
	if market, ok := state.Markets[v.MarketID]; ok {
		oldIndex = market.CumulativeFundingIndex
		market.CumulativeFundingIndex = v.NewCumulativeIndex
	}

	for _, aid := range state.AccountsWithPositionIn(v.MarketID) {
		acc := state.Accounts[aid]
		pos := acc.Positions[v.MarketID]
		last, ok := acc.LastFunding[v.MarketID]
		if !ok {
			last = oldIndex
		}
		fundingDelta := last.Sub(v.NewCumulativeIndex).Mul(pos.Quantity)
		acc.Collateral = acc.Collateral.Add(fundingDelta)
		acc.LastFunding[v.MarketID] = v.NewCumulativeIndex
	}
}

// accountsToScan computes the set of accounts the liquidation scan must
// run over for a given applied event kind, materialized in ascending
// account-id order by the State helpers it calls.
func accountsToScan(state *core.State, et EventType) []core.AccountId {
	switch v := et.(type) {
	case TradeFill:
		return []core.AccountId{v.AccountID}
	case MarkPriceUpdate:
		return state.AccountsWithPositionIn(v.MarketID)
	case FundingUpdate:
		return state.AccountsWithPositionIn(v.MarketID)
	default:
		return nil
	}
}

// rejectionEvent synthesizes the TradeRejected/WithdrawalRejected record
// for a rejected primary event.
func rejectionEvent(et EventType, reason string) EventType {
	switch v := et.(type) {
	case TradeFill:
		return TradeRejected{AccountID: v.AccountID, MarketID: v.MarketID, Quantity: v.Quantity, Price: v.Price, Reason: reason}
	case Withdraw:
		return WithdrawalRejected{AccountID: v.AccountID, Amount: v.Amount, Reason: reason}
	default:
		panic(fmt.Sprintf("engine: %T cannot be rejected", et))
	}
}
