package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"threshold_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGateway struct {
	price    float64
	priceErr error
	bal      models.Balances
	balErr   error
	orderErr error

	buys  []float64
	sells []float64
}

func (g *fakeGateway) Price(context.Context) (float64, error) { return g.price, g.priceErr }
func (g *fakeGateway) Balances(context.Context) (models.Balances, error) {
	return g.bal, g.balErr
}

func (g *fakeGateway) MarketBuy(_ context.Context, notional float64) (models.OrderRef, error) {
	g.buys = append(g.buys, notional)
	if g.orderErr != nil {
		return models.OrderRef{}, g.orderErr
	}
	return models.OrderRef{TxIDs: []string{fmt.Sprintf("OB-%d", len(g.buys))}}, nil
}

func (g *fakeGateway) MarketSell(_ context.Context, qty float64) (models.OrderRef, error) {
	g.sells = append(g.sells, qty)
	if g.orderErr != nil {
		return models.OrderRef{}, g.orderErr
	}
	return models.OrderRef{TxIDs: []string{fmt.Sprintf("OS-%d", len(g.sells))}}, nil
}

type memStore struct {
	st      *models.StrategyState
	loadErr error
	saveErr error
	saves   int
}

func (s *memStore) Load(context.Context) (*models.StrategyState, error) {
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.st == nil {
		return nil, nil
	}
	cp := s.st.Clone()
	return &cp, nil
}

func (s *memStore) Save(_ context.Context, st models.StrategyState) error {
	s.saves++
	if s.saveErr != nil {
		return s.saveErr
	}
	cp := st.Clone()
	s.st = &cp
	return nil
}

type memLedger struct {
	trades []models.Trade
}

func (l *memLedger) Append(_ context.Context, t models.Trade) error {
	l.trades = append(l.trades, t)
	return nil
}

type memNotifier struct {
	msgs []string
}

func (n *memNotifier) Sendf(_ context.Context, format string, args ...any) {
	n.msgs = append(n.msgs, fmt.Sprintf(format, args...))
}

type fixture struct {
	gw     *fakeGateway
	store  *memStore
	ledger *memLedger
	n      *memNotifier
	now    time.Time
}

func defaultParams() Params {
	return Params{
		Pair:           "XMRUSD",
		BaseAsset:      "XMR",
		QuoteAsset:     "USD",
		DropPct:        0.05,
		RisePct:        0.05,
		MinTrade:       10,
		MaxPosition:    100,
		TradingEnabled: true,
		Location:       time.UTC,
	}
}

func newFixture(st *models.StrategyState) *fixture {
	return &fixture{
		gw:     &fakeGateway{},
		store:  &memStore{st: st},
		ledger: &memLedger{},
		n:      &memNotifier{},
		now:    time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
	}
}

func (f *fixture) engine(p Params) *Engine {
	return New(context.Background(), p, f.gw, f.store, f.ledger, f.n,
		WithClock(func() time.Time { return f.now }))
}

func (f *fixture) tick(t *testing.T, e *Engine, price float64) {
	t.Helper()
	f.gw.price = price
	require.NoError(t, e.Tick(context.Background()))
	f.now = f.now.Add(30 * time.Second)
	assertInvariant(t, e.State())
}

func assertInvariant(t *testing.T, st models.StrategyState) {
	t.Helper()
	assert.Equal(t, st.PositionQty > 0, st.EntryPrice != nil, "position <=> entry price")
	assert.GreaterOrEqual(t, st.PositionQty, 0.0)
}

func lastAction(e *Engine) string {
	s := e.Snapshot()
	if s.LastAction == nil {
		return ""
	}
	return *s.LastAction
}

func TestEngine_BuyOnDropFromSessionHigh(t *testing.T) {
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(100)})
	f.gw.bal = models.Balances{Quote: 50}
	e := f.engine(defaultParams())

	f.tick(t, e, 95.0)

	require.Equal(t, []float64{50}, f.gw.buys)
	st := e.State()
	require.NotNil(t, st.EntryPrice)
	assert.Equal(t, 95.0, *st.EntryPrice)
	assert.InDelta(t, 0.526316, st.PositionQty, 1e-6)
	assert.Equal(t, 50/95.0, st.PositionQty)
	assert.Equal(t, 100.0, *st.SessionHigh)

	assert.Equal(t, models.ActionBuy, lastAction(e))
	require.Len(t, f.ledger.trades, 1)
	tr := f.ledger.trades[0]
	assert.Equal(t, models.SideBuy, tr.Side)
	assert.Nil(t, tr.PnL)
	assert.Equal(t, "OB-1", tr.OrderRef)
	assert.InDelta(t, 50.0, tr.Notional(), 1e-9)

	require.NotNil(t, f.store.st)
	assert.Equal(t, st.PositionQty, f.store.st.PositionQty)
	assert.Len(t, f.n.msgs, 1)
}

func TestEngine_SellOnRiseResetsBaselines(t *testing.T) {
	qty := 50 / 95.0
	f := newFixture(&models.StrategyState{
		PositionQty: qty,
		EntryPrice:  models.Ptr(95.0),
		SessionHigh: models.Ptr(100),
	})
	f.gw.bal = models.Balances{Base: qty}
	e := f.engine(defaultParams())

	f.tick(t, e, 99.75)

	require.Equal(t, []float64{qty}, f.gw.sells)
	st := e.State()
	assert.Equal(t, 0.0, st.PositionQty)
	assert.Nil(t, st.EntryPrice)
	require.NotNil(t, st.LastSellPrice)
	assert.Equal(t, 99.75, *st.LastSellPrice)
	assert.Equal(t, 99.75, *st.SessionHigh)

	require.Len(t, f.ledger.trades, 1)
	tr := f.ledger.trades[0]
	assert.Equal(t, models.SideSell, tr.Side)
	require.NotNil(t, tr.PnL)
	assert.InDelta(t, (99.75-95.0)*qty, *tr.PnL, 1e-12)
	assert.InDelta(t, 2.5, *tr.PnL, 1e-9)
	assert.Equal(t, models.ActionSell, lastAction(e))

	snap := e.Snapshot()
	assert.Equal(t, 0.0, snap.PositionQty)
	assert.Nil(t, snap.EntryPrice)
	assert.Equal(t, 99.75, *snap.LastSellPrice)
}

func TestEngine_NoSellBelowRiseThreshold(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 1, EntryPrice: models.Ptr(95.0)})
	f.gw.bal = models.Balances{Base: 1}
	e := f.engine(defaultParams())

	f.tick(t, e, 99.74)

	assert.Empty(t, f.gw.sells)
	assert.Equal(t, 1.0, e.State().PositionQty)
	assert.Equal(t, models.ModeSell, e.Snapshot().Mode)
}

func TestEngine_InsufficientQuoteSkipsBuy(t *testing.T) {
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(100)})
	f.gw.bal = models.Balances{Quote: 5}
	e := f.engine(defaultParams())
	before := e.State()

	f.tick(t, e, 95.0)

	assert.Empty(t, f.gw.buys)
	assert.Equal(t, models.ActionBuySkippedNoFunds, lastAction(e))
	assert.Equal(t, before, e.State())
	assert.Empty(t, f.ledger.trades)
}

func TestEngine_DryRunSimulatesBuy(t *testing.T) {
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(100)})
	f.gw.bal = models.Balances{Quote: 500}
	p := defaultParams()
	p.TradingEnabled = false
	e := f.engine(p)
	before := e.State()

	f.tick(t, e, 90.0)

	assert.Empty(t, f.gw.buys)
	assert.Equal(t, models.ActionBuySimulated, lastAction(e))
	assert.Equal(t, before, e.State())
	assert.False(t, e.Snapshot().TradingEnabled)
}

func TestEngine_DryRunSimulatesSell(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 2, EntryPrice: models.Ptr(10.0)})
	f.gw.bal = models.Balances{Base: 2}
	p := defaultParams()
	p.TradingEnabled = false
	e := f.engine(p)

	f.tick(t, e, 20.0)

	assert.Empty(t, f.gw.sells)
	assert.Equal(t, models.ActionSellSimulated, lastAction(e))
	assert.Equal(t, 2.0, e.State().PositionQty)
}

func TestEngine_SellSkippedWithoutBaseBalance(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 2, EntryPrice: models.Ptr(10.0)})
	f.gw.balErr = errors.New("balance down")
	e := f.engine(defaultParams())

	f.tick(t, e, 20.0)

	assert.Empty(t, f.gw.sells)
	assert.Equal(t, models.ActionSellSkippedNoBalance, lastAction(e))
	assert.Equal(t, 0.0, *e.Snapshot().BaseAvailable)
}

func TestEngine_PartialSellKeepsPosition(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 2, EntryPrice: models.Ptr(10.0), SessionHigh: models.Ptr(12)})
	f.gw.bal = models.Balances{Base: 0.5}
	e := f.engine(defaultParams())

	f.tick(t, e, 11.0)

	require.Equal(t, []float64{0.5}, f.gw.sells)
	st := e.State()
	assert.Equal(t, 1.5, st.PositionQty)
	assert.Equal(t, 10.0, *st.EntryPrice)
	assert.Nil(t, st.LastSellPrice)
	assert.Equal(t, 12.0, *st.SessionHigh)
}

func TestEngine_DustRemainderClosesPosition(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 1 + 5e-9, EntryPrice: models.Ptr(10.0)})
	f.gw.bal = models.Balances{Base: 1}
	e := f.engine(defaultParams())

	f.tick(t, e, 11.0)

	st := e.State()
	assert.Equal(t, 0.0, st.PositionQty)
	assert.Nil(t, st.EntryPrice)
	assert.Equal(t, 11.0, *st.LastSellPrice)
}

func TestEngine_BaselinePrefersLastSellPrice(t *testing.T) {
	// sessionHigh выше, но покупка считается от цены продажи
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(200), LastSellPrice: models.Ptr(100)})
	f.gw.bal = models.Balances{Quote: 100}
	e := f.engine(defaultParams())

	f.tick(t, e, 96.0)
	assert.Empty(t, f.gw.buys)
	assert.Equal(t, 95.0, *e.Snapshot().DropThresholdPrice)

	f.tick(t, e, 95.0)
	require.Len(t, f.gw.buys, 1)
	assert.Equal(t, 95.0, *e.State().EntryPrice)
}

func TestEngine_FullCycleUsesSellPriceAsNextBaseline(t *testing.T) {
	f := newFixture(nil)
	f.gw.bal = models.Balances{Quote: 100}
	e := f.engine(defaultParams())

	f.tick(t, e, 100)
	assert.Equal(t, 100.0, *e.State().SessionHigh)
	assert.Empty(t, f.gw.buys)

	f.tick(t, e, 95)
	require.Len(t, f.gw.buys, 1)
	qty := e.State().PositionQty
	f.gw.bal = models.Balances{Base: qty}

	f.tick(t, e, 99.75)
	require.Len(t, f.gw.sells, 1)
	st := e.State()
	assert.Equal(t, 99.75, *st.LastSellPrice)
	assert.Equal(t, 99.75, *st.SessionHigh)

	// новый максимум не сдвигает базу, пока есть lastSellPrice
	f.gw.bal = models.Balances{Quote: 100}
	f.tick(t, e, 120)
	assert.Equal(t, 120.0, *e.State().SessionHigh)
	assert.InDelta(t, 99.75*0.95, *e.Snapshot().DropThresholdPrice, 1e-9)

	// порог считается в рантайме: константа 99.75*0.95 свернулась бы точно и была бы выше
	lastSell := 99.75
	f.tick(t, e, lastSell*(1-0.05))
	assert.Len(t, f.gw.buys, 2)
}

func TestEngine_SessionHighOnlyGrowsWhileFlat(t *testing.T) {
	f := newFixture(nil)
	e := f.engine(defaultParams())

	for _, p := range []float64{100, 101, 99, 102, 98} {
		f.tick(t, e, p)
	}
	assert.Equal(t, 102.0, *e.State().SessionHigh)
	assert.Empty(t, f.gw.buys)
}

func TestEngine_PriceFailureSkipsTick(t *testing.T) {
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(100)})
	e := f.engine(defaultParams())
	f.gw.priceErr = errors.New("timeout")

	err := e.Tick(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, f.store.saves)
	assert.Equal(t, 100.0, *e.State().SessionHigh)
	assert.Equal(t, "", e.Snapshot().Timestamp)

	f.gw.priceErr = nil
	f.gw.price = -1
	require.Error(t, e.Tick(context.Background()))
}

func TestEngine_OrderFailureLeavesStateAndTag(t *testing.T) {
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(100)})
	f.gw.bal = models.Balances{Quote: 50}
	f.gw.orderErr = errors.New("rejected")
	e := f.engine(defaultParams())

	f.tick(t, e, 90)

	assert.Len(t, f.gw.buys, 1)
	assert.True(t, e.State().Flat())
	assert.Equal(t, "", lastAction(e))
	assert.Empty(t, f.ledger.trades)
}

func TestEngine_SaveFailureKeepsInMemoryState(t *testing.T) {
	f := newFixture(&models.StrategyState{SessionHigh: models.Ptr(100)})
	f.gw.bal = models.Balances{Quote: 50}
	f.store.saveErr = errors.New("disk full")
	e := f.engine(defaultParams())

	f.tick(t, e, 95)

	assert.Equal(t, 95.0, *e.State().EntryPrice)
	assert.Equal(t, models.ActionBuy, lastAction(e))
}

func TestEngine_LoadFailureStartsFresh(t *testing.T) {
	f := newFixture(nil)
	f.store.loadErr = errors.New("corrupt")
	e := f.engine(defaultParams())

	st := e.State()
	assert.Equal(t, 0.0, st.PositionQty)
	assert.Nil(t, st.EntryPrice)
	assert.Nil(t, st.SessionHigh)
	assert.Nil(t, st.LastSellPrice)
}

func TestEngine_LoadRejectsPositionWithoutEntry(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 1, SessionHigh: models.Ptr(50)})
	e := f.engine(defaultParams())

	assert.Equal(t, models.StrategyState{}, e.State())
}

func TestEngine_LoadedPositionShownAsLastAction(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 50 / 95.0, EntryPrice: models.Ptr(95.0)})
	f.gw.bal = models.Balances{Base: 50 / 95.0}
	e := f.engine(defaultParams())

	f.tick(t, e, 96)
	assert.Equal(t, "LOADED: BUY 0.526316 XMR @ 95.00", lastAction(e))

	f.tick(t, e, 99.75)
	assert.Equal(t, models.ActionSell, lastAction(e))

	f.tick(t, e, 99.0)
	assert.Nil(t, e.Snapshot().LastAction)
}

func TestEngine_SnapshotFields(t *testing.T) {
	f := newFixture(&models.StrategyState{PositionQty: 1, EntryPrice: models.Ptr(100.0), SessionHigh: models.Ptr(120)})
	f.gw.bal = models.Balances{Base: 1, Quote: 42}
	e := f.engine(defaultParams())

	f.tick(t, e, 100)
	f.tick(t, e, 104)

	s := e.Snapshot()
	assert.Equal(t, "2025-03-01 10:00:30", s.Timestamp)
	assert.Equal(t, "XMRUSD", s.Pair)
	assert.Equal(t, 104.0, *s.Price)
	assert.Equal(t, 42.0, *s.QuoteAvailable)
	assert.Equal(t, 1.0, *s.BaseAvailable)
	assert.Equal(t, 114.0, *s.DropThresholdPrice)
	assert.Equal(t, 105.0, *s.RiseThresholdPrice)
	assert.Equal(t, 100.0, *s.Price24hStart)
	assert.InDelta(t, 0.04, *s.Price24hChangePct, 1e-12)
	assert.Equal(t, models.ModeSell, s.Mode)
}

func TestEngine_FlatSnapshotWithoutBaseline(t *testing.T) {
	f := newFixture(nil)
	e := f.engine(defaultParams())

	f.tick(t, e, 10)

	s := e.Snapshot()
	// снапшот публикуется до обновления sessionHigh
	assert.Nil(t, s.DropThresholdPrice)
	assert.Nil(t, s.RiseThresholdPrice)
	assert.Nil(t, s.EntryPrice)
	assert.Equal(t, models.ModeBuy, s.Mode)
}

func TestEngine_HourlyStatusOncePerHour(t *testing.T) {
	loc := time.FixedZone("PDT", -7*60*60)
	f := newFixture(nil)
	p := defaultParams()
	p.Location = loc
	e := f.engine(p)

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	assert.True(t, e.shouldLogHourly(base))
	assert.False(t, e.shouldLogHourly(base.Add(30*time.Minute)))
	assert.False(t, e.shouldLogHourly(base.Add(59*time.Minute)))
	assert.True(t, e.shouldLogHourly(base.Add(60*time.Minute)))
	assert.False(t, e.shouldLogHourly(base.Add(61*time.Minute)))
}

func TestEngine_ProbeRequiresPrice(t *testing.T) {
	f := newFixture(nil)
	e := f.engine(defaultParams())

	f.gw.priceErr = errors.New("dns")
	assert.Error(t, e.Probe(context.Background()))

	f.gw.priceErr = nil
	f.gw.price = 0
	assert.Error(t, e.Probe(context.Background()))

	f.gw.price = 150
	assert.NoError(t, e.Probe(context.Background()))
}

func TestEngine_SnapshotReadersDuringTicks(t *testing.T) {
	f := newFixture(nil)
	f.gw.bal = models.Balances{Quote: 100, Base: 10}
	e := f.engine(defaultParams())

	var (
		stop  atomic.Bool
		wg    sync.WaitGroup
		reads atomic.Int64
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for !stop.Load() {
				s := e.Snapshot()
				if s.PositionQty > 0 && s.EntryPrice == nil {
					t.Errorf("snapshot with position %.8f and no entry", s.PositionQty)
					return
				}
				if s.LastAction != nil {
					_ = *s.LastAction
				}
				reads.Add(1)
			}
		}()
	}

	// 100 -> 95 покупка, 105 продажа, дальше по кругу
	prices := []float64{100, 95, 105}
	for i := 0; i < 200; i++ {
		f.tick(t, e, prices[i%len(prices)])
	}
	assert.Eventually(t, func() bool { return reads.Load() > 0 }, time.Second, time.Millisecond)
	stop.Store(true)
	wg.Wait()

	assert.NotEmpty(t, f.gw.buys)
	assert.NotEmpty(t, f.gw.sells)
}

func TestFmtOpt(t *testing.T) {
	assert.Equal(t, "n/a", fmtOpt(nil))
	assert.Equal(t, "95.500000", fmtOpt(models.Ptr(95.5)))
}
