package core

import "github.com/shopspring/decimal"

var decimalOne = decimal.NewFromInt(1)

// ApplyTradeTo is the single primitive that mutates collateral and
// positions in response to a signed fill (quantity, price) against a
// market. It is pure over its two mutable arguments: it never performs a
// risk check and never emits an event. Both the live trade path and the
// pre-trade simulation path (which calls it against a cloned account)
// share this one function, so there is exactly one place the accounting
// rules live.
//
// Cases are evaluated in the order the specification requires: full
// close, fresh open, increase, partial close, flip. Cost basis retains
// the sign of the acquiring fills throughout, so the formulae below are
// identical for longs and shorts — there is no sign-specific branch
// beyond the case selection itself.
func ApplyTradeTo(collateral *decimal.Decimal, positions map[MarketId]*Position, marketID MarketId, fillQty, fillPrice decimal.Decimal) {
	currentQty := decimal.Zero
	currentCost := decimal.Zero
	if pos, ok := positions[marketID]; ok {
		currentQty = pos.Quantity
		currentCost = pos.CostBasis
	}

	newQty := currentQty.Add(fillQty)

	switch {
	case newQty.IsZero():
		// Full close: realized P&L is what the closing fill is worth minus
		// what the position cost to acquire.
		realized := fillPrice.Mul(currentQty).Sub(currentCost)
		*collateral = collateral.Add(realized)
		delete(positions, marketID)

	case currentQty.IsZero():
		// Fresh open: no realized P&L, just record the new position.
		positions[marketID] = &Position{
			MarketID:  marketID,
			Quantity:  fillQty,
			CostBasis: fillQty.Mul(fillPrice),
		}

	case currentQty.Sign() == fillQty.Sign():
		// Increase: same direction as the existing position.
		pos := positions[marketID]
		pos.Quantity = newQty
		pos.CostBasis = currentCost.Add(fillQty.Mul(fillPrice))

	case newQty.Sign() == currentQty.Sign():
		// Partial close: opposite-direction fill that doesn't flip the
		// position. Realize P&L on the closed fraction only.
		closedFraction := fillQty.Abs().Div(currentQty.Abs())
		if closedFraction.GreaterThan(decimalOne) {
			closedFraction = decimalOne
		}
		closedQty := currentQty.Mul(closedFraction)
		closedCost := currentCost.Mul(closedFraction)
		realized := closedQty.Mul(fillPrice).Sub(closedCost)
		*collateral = collateral.Add(realized)

		pos := positions[marketID]
		pos.Quantity = newQty
		pos.CostBasis = currentCost.Sub(closedCost)
		if pos.Quantity.IsZero() {
			delete(positions, marketID)
		}

	default:
		// Flip: close the entire existing position, open the remainder in
		// the opposite direction at the fill price.
		realized := fillPrice.Mul(currentQty).Sub(currentCost)
		*collateral = collateral.Add(realized)
		positions[marketID] = &Position{
			MarketID:  marketID,
			Quantity:  newQty,
			CostBasis: newQty.Mul(fillPrice),
		}
	}
}
