package engine

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/epic1st/crossmargin/config"
	"github.com/epic1st/crossmargin/internal/core"
	"github.com/epic1st/crossmargin/metrics"
	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func testMarkets() []*core.Market {
	return []*core.Market{
		core.NewMarket("BTC-PERP", d("0.05"), d("0.03")),
		core.NewMarket("ETH-PERP", d("0.10"), d("0.05")),
	}
}

func newTestEngine() *Engine {
	e := New()
	for _, m := range testMarkets() {
		e.AddMarket(m)
	}
	return e
}

func TestDepositOnlyInvariant(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "alice", Amount: d("40000")})
	e.Process(Deposit{AccountID: "alice", Amount: d("60000")})

	acc := e.State().Accounts["alice"]
	if !acc.Collateral.Equal(d("100000")) {
		t.Errorf("collateral = %s, want 100000", acc.Collateral)
	}
}

// Scenario 1: liquidation chain.
func TestLiquidationChainScenario(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "alice", Amount: d("100000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("50000")})
	e.Process(TradeFill{AccountID: "alice", MarketID: "BTC-PERP", Quantity: d("10"), Price: d("50000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("42000")})

	acc := e.State().Accounts["alice"]
	if len(acc.Positions) != 1 {
		t.Fatalf("alice should still hold her position at mark 42000")
	}

	events := e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("41000")})

	var fills int
	for _, evt := range events {
		if _, ok := evt.Type.(LiquidationFill); ok {
			fills++
		}
	}
	if fills != 1 {
		t.Fatalf("expected exactly one liquidation fill, got %d (events=%+v)", fills, events)
	}

	acc = e.State().Accounts["alice"]
	if len(acc.Positions) != 0 {
		t.Errorf("alice should hold no positions after liquidation")
	}
	if !acc.Collateral.Equal(d("10000")) {
		t.Errorf("final collateral = %s, want 10000", acc.Collateral)
	}
	if !acc.BankruptcyDeficit.IsZero() {
		t.Errorf("bankruptcy deficit should be zero, got %s", acc.BankruptcyDeficit)
	}
}

// Scenario 2: rejected trade.
func TestRejectedTradeScenario(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "bob", Amount: d("10000")})
	e.Process(MarkPriceUpdate{MarketID: "ETH-PERP", Price: d("3000")})

	accepted := e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})
	if len(accepted) != 1 {
		t.Fatalf("first fill should be accepted with no rejection event, got %+v", accepted)
	}

	rejected := e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})
	if len(rejected) != 2 {
		t.Fatalf("second fill should produce a primary event plus a rejection, got %d", len(rejected))
	}
	tr, ok := rejected[1].Type.(TradeRejected)
	if !ok {
		t.Fatalf("expected TradeRejected, got %T", rejected[1].Type)
	}
	want := "Insufficient margin: equity 10000 < IM required 12000"
	if tr.Reason != want {
		t.Errorf("reason = %q, want %q", tr.Reason, want)
	}
}

// Scenario 3: cross-margin rejection.
func TestCrossMarginRejectionScenario(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "charlie", Amount: d("20000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("50000")})
	e.Process(MarkPriceUpdate{MarketID: "ETH-PERP", Price: d("3000")})

	accepted := e.Process(TradeFill{AccountID: "charlie", MarketID: "BTC-PERP", Quantity: d("5"), Price: d("50000")})
	if len(accepted) != 1 {
		t.Fatalf("BTC fill should be accepted, got %+v", accepted)
	}

	rejected := e.Process(TradeFill{AccountID: "charlie", MarketID: "ETH-PERP", Quantity: d("30"), Price: d("3000")})
	if len(rejected) != 2 {
		t.Fatalf("30 ETH fill should be rejected by combined IM, got %+v", rejected)
	}

	accepted = e.Process(TradeFill{AccountID: "charlie", MarketID: "ETH-PERP", Quantity: d("15"), Price: d("3000")})
	if len(accepted) != 1 {
		t.Fatalf("15 ETH fill should fit combined IM budget, got %+v", accepted)
	}
}

// Scenario 4: funding payment.
func TestFundingPaymentScenario(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "bob", Amount: d("20000")})
	e.Process(MarkPriceUpdate{MarketID: "ETH-PERP", Price: d("3000")})
	e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})

	collateralBefore := e.State().Accounts["bob"].Collateral

	e.Process(FundingUpdate{MarketID: "ETH-PERP", NewCumulativeIndex: d("1.50")})

	acc := e.State().Accounts["bob"]
	wantDelta := d("-30")
	if got := acc.Collateral.Sub(collateralBefore); !got.Equal(wantDelta) {
		t.Errorf("funding delta = %s, want %s", got, wantDelta)
	}
	if !acc.LastFunding["ETH-PERP"].Equal(d("1.50")) {
		t.Errorf("last_funding[ETH-PERP] = %s, want 1.50", acc.LastFunding["ETH-PERP"])
	}
}

// Scenario 5: flip.
func TestFlipScenario(t *testing.T) {
	e := newTestEngine()
	e.AddMarket(core.NewMarket("X-PERP", d("0.05"), d("0.03")))
	e.Process(Deposit{AccountID: "d", Amount: d("100000")})
	e.Process(MarkPriceUpdate{MarketID: "X-PERP", Price: d("100")})
	e.Process(TradeFill{AccountID: "d", MarketID: "X-PERP", Quantity: d("10"), Price: d("100")})
	e.Process(TradeFill{AccountID: "d", MarketID: "X-PERP", Quantity: d("-15"), Price: d("120")})

	acc := e.State().Accounts["d"]
	if !acc.Collateral.Equal(d("100200")) {
		t.Errorf("collateral after flip = %s, want 100200", acc.Collateral)
	}
	pos := acc.Positions["X-PERP"]
	if !pos.Quantity.Equal(d("-5")) || !pos.CostBasis.Equal(d("-600")) {
		t.Errorf("got quantity=%s costBasis=%s, want -5/-600", pos.Quantity, pos.CostBasis)
	}
}

// Scenario 6 / invariant 1: replay equality, including a JSON round trip.
func TestReplayEqualsLive(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "alice", Amount: d("100000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("50000")})
	e.Process(TradeFill{AccountID: "alice", MarketID: "BTC-PERP", Quantity: d("10"), Price: d("50000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("42000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("41000")})
	e.Process(Deposit{AccountID: "bob", Amount: d("10000")})
	e.Process(MarkPriceUpdate{MarketID: "ETH-PERP", Price: d("3000")})
	e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})
	e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})
	e.Process(FundingUpdate{MarketID: "ETH-PERP", NewCumulativeIndex: d("1.50")})

	liveLog := e.EventLog()
	liveState := e.State()
	liveSnapshots := e.Snapshots()

	replayedState, replayedSnapshots, err := Replay(liveLog, testMarkets())
	if err != nil {
		t.Fatalf("Replay returned error: %v", err)
	}

	assertStatesEqual(t, liveState, replayedState)
	if len(liveSnapshots) != len(replayedSnapshots) {
		t.Fatalf("snapshot count mismatch: live=%d replayed=%d", len(liveSnapshots), len(replayedSnapshots))
	}
	for i := range liveSnapshots {
		if !reflect.DeepEqual(liveSnapshots[i], replayedSnapshots[i]) {
			t.Errorf("snapshot %d differs:\nlive=%+v\nreplayed=%+v", i, liveSnapshots[i], replayedSnapshots[i])
		}
	}

	// Round trip the log through JSON and replay again.
	raw, err := json.Marshal(liveLog)
	if err != nil {
		t.Fatalf("marshal log: %v", err)
	}
	var roundTripped []Event
	if err := json.Unmarshal(raw, &roundTripped); err != nil {
		t.Fatalf("unmarshal log: %v", err)
	}
	roundTrippedState, _, err := Replay(roundTripped, testMarkets())
	if err != nil {
		t.Fatalf("Replay after round trip returned error: %v", err)
	}
	assertStatesEqual(t, liveState, roundTrippedState)
}

func TestSequenceNumbersAreGaplessAndMonotone(t *testing.T) {
	e := newTestEngine()
	e.Process(Deposit{AccountID: "alice", Amount: d("100000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("50000")})
	e.Process(TradeFill{AccountID: "alice", MarketID: "BTC-PERP", Quantity: d("10"), Price: d("50000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("41000")})

	log := e.EventLog()
	for i, evt := range log {
		want := uint64(i + 1)
		if evt.Sequence != want {
			t.Errorf("event %d has sequence %d, want %d", i, evt.Sequence, want)
		}
	}
}

// TestBootstrapFromConfig exercises the real startup path: config.Load
// reads the market universe from the environment, validates the IMF/MMF
// fractions, and Engine is seeded from it via AddMarket — instead of the
// other tests' hand-built testMarkets() — so a regression in config's
// env parsing or bootstrap wiring would surface here.
func TestBootstrapFromConfig(t *testing.T) {
	t.Setenv("MARKETS", "BTC-PERP:0.05:0.03,ETH-PERP:0.10:0.05")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("config.Load returned error: %v", err)
	}

	e := New()
	for _, m := range cfg.BootstrapMarkets() {
		e.AddMarket(m)
	}

	e.Process(Deposit{AccountID: "alice", Amount: d("100000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("50000")})
	accepted := e.Process(TradeFill{AccountID: "alice", MarketID: "BTC-PERP", Quantity: d("10"), Price: d("50000")})
	if len(accepted) != 1 {
		t.Fatalf("fill within IM budget should be accepted, got %+v", accepted)
	}

	acc := e.State().Accounts["alice"]
	if acc.Positions["BTC-PERP"] == nil {
		t.Fatalf("expected an open BTC-PERP position seeded from config-bootstrapped market")
	}
}

// TestMetricsWiring exercises Engine with a real metrics.Recorder
// attached via WithMetrics — not a nil one — so a regression in the
// actual Prometheus collector wiring (as opposed to the nil-receiver
// no-op path) would show up as a counter/gauge mismatch here.
func TestMetricsWiring(t *testing.T) {
	rec := metrics.New()
	e := New(WithMetrics(rec))
	for _, m := range testMarkets() {
		e.AddMarket(m)
	}

	e.Process(Deposit{AccountID: "alice", Amount: d("100000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("50000")})
	e.Process(TradeFill{AccountID: "alice", MarketID: "BTC-PERP", Quantity: d("10"), Price: d("50000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("42000")})
	e.Process(MarkPriceUpdate{MarketID: "BTC-PERP", Price: d("41000")})

	e.Process(Deposit{AccountID: "bob", Amount: d("10000")})
	e.Process(MarkPriceUpdate{MarketID: "ETH-PERP", Price: d("3000")})
	e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})
	e.Process(TradeFill{AccountID: "bob", MarketID: "ETH-PERP", Quantity: d("20"), Price: d("3000")})

	if got := rec.ProcessedCount("Deposit"); got != 2 {
		t.Errorf("Deposit processed count = %v, want 2", got)
	}
	if got := rec.ProcessedCount("TradeFill"); got != 3 {
		t.Errorf("TradeFill processed count = %v, want 3", got)
	}
	if got := rec.TradeRejectedCount(); got != 1 {
		t.Errorf("TradeRejectedCount = %v, want 1", got)
	}
	if got := rec.LiquidationFillCount(); got != 1 {
		t.Errorf("LiquidationFillCount = %v, want 1", got)
	}
	if got, want := rec.SequenceValue(), float64(e.EventLog()[len(e.EventLog())-1].Sequence); got != want {
		t.Errorf("SequenceValue = %v, want %v", got, want)
	}
}

func assertStatesEqual(t *testing.T, a, b *core.State) {
	t.Helper()
	if len(a.Accounts) != len(b.Accounts) {
		t.Fatalf("account count mismatch: %d vs %d", len(a.Accounts), len(b.Accounts))
	}
	for id, accA := range a.Accounts {
		accB, ok := b.Accounts[id]
		if !ok {
			t.Fatalf("account %s missing from second state", id)
		}
		if !accA.Collateral.Equal(accB.Collateral) {
			t.Errorf("account %s collateral mismatch: %s vs %s", id, accA.Collateral, accB.Collateral)
		}
		if !accA.BankruptcyDeficit.Equal(accB.BankruptcyDeficit) {
			t.Errorf("account %s bankruptcy deficit mismatch: %s vs %s", id, accA.BankruptcyDeficit, accB.BankruptcyDeficit)
		}
		if len(accA.Positions) != len(accB.Positions) {
			t.Fatalf("account %s position count mismatch", id)
		}
		for mid, posA := range accA.Positions {
			posB, ok := accB.Positions[mid]
			if !ok || !posA.Quantity.Equal(posB.Quantity) || !posA.CostBasis.Equal(posB.CostBasis) {
				t.Errorf("account %s position %s mismatch: %+v vs %+v", id, mid, posA, posB)
			}
		}
	}
}
