package engine

import (
	"fmt"

	"github.com/epic1st/crossmargin/internal/core"
	"github.com/epic1st/crossmargin/logging"
)

// Replay reconstructs state from an event log: it registers the given
// market configurations, then reapplies every logged event in order,
// preserving each event's original sequence and capturing a snapshot
// after each. It does not re-run the liquidation scan — the log already
// contains the LiquidationFill events the live engine produced, and
// reapplying them through the same pure applier is sufficient.
//
// Per-event rejections during replay are expected (the log may contain
// both an attempted TradeFill/Withdraw and its rejection record) and are
// logged informationally rather than surfaced as an error; Replay only
// returns an error for a structurally invalid call.
func Replay(log []Event, markets []*core.Market) (*core.State, []Snapshot, error) {
	state := core.NewState()
	seen := make(map[core.MarketId]bool, len(markets))
	for _, m := range markets {
		if seen[m.MarketID] {
			return nil, nil, fmt.Errorf("engine: duplicate market id %s in replay markets", m.MarketID)
		}
		seen[m.MarketID] = true
		state.AddMarket(m)
	}

	snapshots := make([]Snapshot, 0, len(log))
	for _, evt := range log {
		decision := applyEvent(state, evt.Type)
		if !decision.Ok {
			logging.Info("replay: event rejected",
				logging.Component("replay"),
				logging.Sequence(evt.Sequence),
				logging.String("reason", decision.Reason))
		}
		snapshots = append(snapshots, Capture(state, evt.Sequence))
	}

	return state, snapshots, nil
}
