// Package risk computes the portfolio-level margin figures the engine
// needs to accept or reject a trade/withdrawal and to decide whether an
// account must be force-liquidated. The margin and pre-trade/withdrawal
// functions are pure reads over (*core.Account, *core.State) and mutate
// nothing — the engine package is the only caller that turns a
// risk.Decision into a state change. CheckAndLiquidate is the exception:
// it applies its forced closes to the account directly. The margin
// functions do log a WARN when a held position references a
// market State has no configuration for, since that is an invariant
// violation worth an operator's attention even though the return value
// degrades deterministically to zero.
package risk

import (
	"github.com/epic1st/crossmargin/internal/core"
	"github.com/epic1st/crossmargin/logging"
	"github.com/shopspring/decimal"
)

// PositionNotional is |price * quantity|.
func PositionNotional(quantity, price decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Abs()
}

// PositionUnrealizedPnL is price*quantity - cost_basis.
func PositionUnrealizedPnL(quantity, costBasis, price decimal.Decimal) decimal.Decimal {
	return price.Mul(quantity).Sub(costBasis)
}

// TotalUnrealizedPnL sums PositionUnrealizedPnL across every position the
// account holds, using each position's market mark price. A position
// whose market can't be resolved in state contributes zero — missing
// market configuration for a held position is an invariant violation the
// core tolerates rather than panics on.
func TotalUnrealizedPnL(acc *core.Account, state *core.State) decimal.Decimal {
	total := decimal.Zero
	for _, mid := range acc.SortedMarketIDs() {
		pos := acc.Positions[mid]
		market, ok := state.Markets[mid]
		if !ok {
			logging.Warn("held position references unknown market, contributing zero unrealized pnl",
				logging.Component("risk"),
				logging.AccountID(string(acc.AccountID)),
				logging.MarketID(string(mid)))
			continue
		}
		total = total.Add(PositionUnrealizedPnL(pos.Quantity, pos.CostBasis, market.MarkPrice))
	}
	return total
}

// Equity is collateral plus total unrealized P&L.
func Equity(acc *core.Account, state *core.State) decimal.Decimal {
	return acc.Collateral.Add(TotalUnrealizedPnL(acc, state))
}

// InitialMarginRequired sums position_notional * InitialMarginFraction
// across every position the account holds.
func InitialMarginRequired(acc *core.Account, state *core.State) decimal.Decimal {
	return marginRequired(acc, state, func(m *core.Market) decimal.Decimal { return m.InitialMarginFraction })
}

// MaintenanceMarginRequired sums position_notional * MaintenanceMarginFraction
// across every position the account holds.
func MaintenanceMarginRequired(acc *core.Account, state *core.State) decimal.Decimal {
	return marginRequired(acc, state, func(m *core.Market) decimal.Decimal { return m.MaintenanceMarginFraction })
}

func marginRequired(acc *core.Account, state *core.State, fraction func(*core.Market) decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, mid := range acc.SortedMarketIDs() {
		pos := acc.Positions[mid]
		market, ok := state.Markets[mid]
		if !ok {
			logging.Warn("held position references unknown market, contributing zero margin requirement",
				logging.Component("risk"),
				logging.AccountID(string(acc.AccountID)),
				logging.MarketID(string(mid)))
			continue
		}
		notional := PositionNotional(pos.Quantity, market.MarkPrice)
		total = total.Add(notional.Mul(fraction(market)))
	}
	return total
}

// IsLiquidatable is true iff the account holds at least one position and
// its equity has fallen to or below its maintenance margin requirement.
// An account with no open positions is never liquidatable, regardless of
// how negative its collateral is.
func IsLiquidatable(acc *core.Account, state *core.State) bool {
	if len(acc.Positions) == 0 {
		return false
	}
	mm := MaintenanceMarginRequired(acc, state)
	return Equity(acc, state).Cmp(mm) <= 0
}
