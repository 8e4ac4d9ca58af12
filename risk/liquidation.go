package risk

import (
	"github.com/epic1st/crossmargin/internal/core"
	"github.com/shopspring/decimal"
)

// LiquidationFill is one forced close produced by CheckAndLiquidate. The
// engine package wraps each of these into a logged, sequenced
// LiquidationFill event; risk itself knows nothing about the event log
// or wire format.
type LiquidationFill struct {
	Sequence  uint64
	AccountID core.AccountId
	MarketID  core.MarketId
	Quantity  decimal.Decimal
	Price     decimal.Decimal
}

// CheckAndLiquidate drives an account through forced liquidation until it
// is no longer liquidatable, closing the largest-notional position first
// at each step and recomputing liquidatability and notional ranking
// after every close (a partial improvement from one close can make
// further closes unnecessary, so the loop never precomputes a static
// order). nextSequence is advanced by one for every fill produced.
func CheckAndLiquidate(state *core.State, accountID core.AccountId, nextSequence *uint64) []LiquidationFill {
	var fills []LiquidationFill

	for {
		acc, ok := state.Accounts[accountID]
		if !ok {
			return fills
		}
		if len(acc.Positions) == 0 {
			recordBankruptcyDeficit(acc)
			return fills
		}
		if !IsLiquidatable(acc, state) {
			return fills
		}

		marketID, ok := largestNotionalPosition(acc, state)
		if !ok {
			// Every held position references an unknown market; nothing
			// deterministic left to close.
			return fills
		}

		pos := acc.Positions[marketID]
		market := state.Markets[marketID]
		closeQty := pos.Quantity.Neg()
		closePrice := market.MarkPrice

		core.ApplyTradeTo(&acc.Collateral, acc.Positions, marketID, closeQty, closePrice)

		seq := *nextSequence
		*nextSequence++
		fills = append(fills, LiquidationFill{
			Sequence:  seq,
			AccountID: accountID,
			MarketID:  marketID,
			Quantity:  closeQty,
			Price:     closePrice,
		})

		if len(acc.Positions) == 0 {
			recordBankruptcyDeficit(acc)
		} else {
			acc.BankruptcyDeficit = decimal.Zero
		}
	}
}

// largestNotionalPosition returns the market id of the position with the
// greatest notional value, breaking ties by ascending market id. A
// position whose market cannot be resolved is skipped.
func largestNotionalPosition(acc *core.Account, state *core.State) (core.MarketId, bool) {
	var best core.MarketId
	var bestNotional decimal.Decimal
	found := false

	for _, mid := range acc.SortedMarketIDs() {
		pos := acc.Positions[mid]
		market, ok := state.Markets[mid]
		if !ok {
			continue
		}
		notional := PositionNotional(pos.Quantity, market.MarkPrice)
		if !found || notional.GreaterThan(bestNotional) {
			best = mid
			bestNotional = notional
			found = true
		}
	}
	return best, found
}

func recordBankruptcyDeficit(acc *core.Account) {
	if acc.Collateral.Sign() < 0 {
		acc.BankruptcyDeficit = acc.Collateral.Neg()
	} else {
		acc.BankruptcyDeficit = decimal.Zero
	}
}
