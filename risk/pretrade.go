package risk

import (
	"fmt"

	"github.com/epic1st/crossmargin/internal/core"
	"github.com/shopspring/decimal"
)

// IsRiskReducing reports whether a fill of fillQty against a position
// currently at currentQty strictly shrinks exposure without flipping
// sign. A fill that fully closes the position (resulting quantity zero)
// counts as risk-reducing; a flip does not.
func IsRiskReducing(currentQty, fillQty decimal.Decimal) bool {
	if currentQty.IsZero() {
		return false
	}
	newQty := currentQty.Add(fillQty)
	if newQty.IsZero() {
		return true
	}
	return newQty.Sign() == currentQty.Sign() && newQty.Abs().LessThan(currentQty.Abs())
}

// CheckTrade implements spec section 4.3's check_trade: it evaluates a
// prospective fill against account and market state without mutating
// either, and returns Accept or Reject with a reason naming the
// quantities involved.
func CheckTrade(state *core.State, accountID core.AccountId, marketID core.MarketId, fillQty, fillPrice decimal.Decimal) Decision {
	acc, ok := state.Accounts[accountID]
	if !ok {
		return Reject("Account does not exist")
	}
	if _, ok := state.Markets[marketID]; !ok {
		return Reject(fmt.Sprintf("Unknown market_id: %s", marketID))
	}

	currentQty := decimal.Zero
	if pos, ok := acc.Positions[marketID]; ok {
		currentQty = pos.Quantity
	}
	if IsRiskReducing(currentQty, fillQty) {
		return Accept()
	}

	simCollateral := acc.Collateral
	simPositions := clonePositions(acc.Positions)
	core.ApplyTradeTo(&simCollateral, simPositions, marketID, fillQty, fillPrice)

	simAcc := &core.Account{
		AccountID:  acc.AccountID,
		Collateral: simCollateral,
		Positions:  simPositions,
	}
	simEquity := Equity(simAcc, state)
	simIM := InitialMarginRequired(simAcc, state)
	if simEquity.Cmp(simIM) >= 0 {
		return Accept()
	}
	return Reject(fmt.Sprintf("Insufficient margin: equity %s < IM required %s", simEquity.String(), simIM.String()))
}

// CheckWithdrawal implements spec section 4.3's check_withdrawal.
func CheckWithdrawal(state *core.State, accountID core.AccountId, amount decimal.Decimal) Decision {
	acc, ok := state.Accounts[accountID]
	if !ok {
		return Reject("Account does not exist")
	}
	if amount.GreaterThan(acc.Collateral) {
		return Reject("Withdrawal exceeds collateral balance")
	}
	remainingEquity := Equity(acc, state).Sub(amount)
	im := InitialMarginRequired(acc, state)
	if remainingEquity.LessThan(im) {
		return Reject("Withdrawal would violate IM")
	}
	return Accept()
}

func clonePositions(positions map[core.MarketId]*core.Position) map[core.MarketId]*core.Position {
	cp := make(map[core.MarketId]*core.Position, len(positions))
	for mid, pos := range positions {
		cp[mid] = pos.Clone()
	}
	return cp
}
