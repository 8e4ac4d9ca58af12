package engine

import (
	"github.com/epic1st/crossmargin/internal/core"
	"github.com/epic1st/crossmargin/risk"
	"github.com/shopspring/decimal"
)

// PositionSnapshot is the derived, read-only view of one held position at
// the sequence the enclosing Snapshot was captured for.
type PositionSnapshot struct {
	MarketID       core.MarketId
	Quantity       decimal.Decimal
	CostBasis      decimal.Decimal
	MarkPrice      decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	Notional       decimal.Decimal
}

// AccountSnapshot is the derived, read-only view of one account at the
// sequence the enclosing Snapshot was captured for.
type AccountSnapshot struct {
	AccountID                 core.AccountId
	Collateral                decimal.Decimal
	Equity                    decimal.Decimal
	UnrealizedPnL             decimal.Decimal
	InitialMarginRequired     decimal.Decimal
	MaintenanceMarginRequired decimal.Decimal
	Liquidatable              bool
	Positions                 []PositionSnapshot
}

// Snapshot is the full derived view of State after a given sequence.
type Snapshot struct {
	AfterSequence uint64
	Accounts      []AccountSnapshot
}

// Capture produces a Snapshot tagged afterSequence by iterating accounts
// in ascending id order and, within each account, positions in ascending
// market-id order — the same traversal order src/snapshot.rs gets for
// free from BTreeMap and that Go must build explicitly via sorted-key
// helpers.
func Capture(state *core.State, afterSequence uint64) Snapshot {
	snap := Snapshot{AfterSequence: afterSequence}
	for _, aid := range state.SortedAccountIDs() {
		acc := state.Accounts[aid]
		snap.Accounts = append(snap.Accounts, captureAccount(acc, state))
	}
	return snap
}

func captureAccount(acc *core.Account, state *core.State) AccountSnapshot {
	as := AccountSnapshot{
		AccountID:                 acc.AccountID,
		Collateral:                acc.Collateral,
		Equity:                    risk.Equity(acc, state),
		UnrealizedPnL:             risk.TotalUnrealizedPnL(acc, state),
		InitialMarginRequired:     risk.InitialMarginRequired(acc, state),
		MaintenanceMarginRequired: risk.MaintenanceMarginRequired(acc, state),
		Liquidatable:              risk.IsLiquidatable(acc, state),
	}
	for _, mid := range acc.SortedMarketIDs() {
		pos := acc.Positions[mid]
		market, ok := state.Markets[mid]
		markPrice := decimal.Zero
		if ok {
			markPrice = market.MarkPrice
		}
		as.Positions = append(as.Positions, PositionSnapshot{
			MarketID:      mid,
			Quantity:      pos.Quantity,
			CostBasis:     pos.CostBasis,
			MarkPrice:     markPrice,
			UnrealizedPnL: risk.PositionUnrealizedPnL(pos.Quantity, pos.CostBasis, markPrice),
			Notional:      risk.PositionNotional(pos.Quantity, markPrice),
		})
	}
	return as
}
