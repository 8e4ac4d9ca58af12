// Package core holds the entities of the cross-margin engine (Account,
// Position, Market, State) and the pure trade-accounting primitive that
// mutates them. Nothing in this package performs a risk check, emits an
// event, or does I/O — it is the data layer the risk and engine packages
// build on.
package core

import "github.com/shopspring/decimal"

// AccountId identifies an Account. Defined as its own type (rather than a
// bare string) so it can't be passed positionally where a MarketId is
// expected.
type AccountId string

// MarketId identifies a Market, e.g. "BTC-PERP".
type MarketId string

// Market is a perpetual-futures instrument configuration. Markets are
// created via configuration before any event references them and are
// never removed.
type Market struct {
	MarketID                  MarketId
	MarkPrice                 decimal.Decimal
	InitialMarginFraction     decimal.Decimal
	MaintenanceMarginFraction decimal.Decimal
	CumulativeFundingIndex    decimal.Decimal
}

// NewMarket constructs a Market with a zero mark price and funding index.
// imf and mmf must satisfy 0 < mmf <= imf < 1; callers are expected to
// enforce this at configuration time.
func NewMarket(id MarketId, imf, mmf decimal.Decimal) *Market {
	return &Market{
		MarketID:                  id,
		MarkPrice:                 decimal.Zero,
		InitialMarginFraction:     imf,
		MaintenanceMarginFraction: mmf,
		CumulativeFundingIndex:    decimal.Zero,
	}
}

// Clone returns a deep copy of the market.
func (m *Market) Clone() *Market {
	cp := *m
	return &cp
}

// Position is a single open directional exposure in one market, owned by
// exactly one Account. Quantity is signed: positive is long, negative is
// short. A position at zero quantity does not exist — it is deleted by
// ApplyTradeTo rather than retained with a zero value.
type Position struct {
	MarketID   MarketId
	Quantity   decimal.Decimal
	CostBasis  decimal.Decimal
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	return &cp
}

// Account is a portfolio: collateral, an open-position book keyed by
// market, and the funding index each held market last settled against.
type Account struct {
	AccountID         AccountId
	Collateral        decimal.Decimal
	Positions         map[MarketId]*Position
	LastFunding       map[MarketId]decimal.Decimal
	BankruptcyDeficit decimal.Decimal
}

// NewAccount constructs an empty account with zero collateral.
func NewAccount(id AccountId) *Account {
	return &Account{
		AccountID:         id,
		Collateral:        decimal.Zero,
		Positions:         make(map[MarketId]*Position),
		LastFunding:       make(map[MarketId]decimal.Decimal),
		BankruptcyDeficit: decimal.Zero,
	}
}

// Clone returns a deep copy of the account, including its position and
// funding-index maps, so a caller can simulate a trade against the copy
// without touching live state.
func (a *Account) Clone() *Account {
	cp := &Account{
		AccountID:         a.AccountID,
		Collateral:        a.Collateral,
		BankruptcyDeficit: a.BankruptcyDeficit,
		Positions:         make(map[MarketId]*Position, len(a.Positions)),
		LastFunding:       make(map[MarketId]decimal.Decimal, len(a.LastFunding)),
	}
	for mid, pos := range a.Positions {
		cp.Positions[mid] = pos.Clone()
	}
	for mid, idx := range a.LastFunding {
		cp.LastFunding[mid] = idx
	}
	return cp
}

// SortedMarketIDs returns the account's position market IDs in ascending
// lexicographic order. Every traversal of Positions that is significant
// to replay determinism must go through this helper instead of a bare
// range, since Go map iteration order is randomized.
func (a *Account) SortedMarketIDs() []MarketId {
	ids := make([]MarketId, 0, len(a.Positions))
	for mid := range a.Positions {
		ids = append(ids, mid)
	}
	sortMarketIDs(ids)
	return ids
}
