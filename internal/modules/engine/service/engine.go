package service

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"threshold_bot/internal/metrics"
	"threshold_bot/internal/models"
	"threshold_bot/pkg/logger"
	"threshold_bot/pkg/tracing"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

const timestampLayout = "2006-01-02 15:04:05"

// Gateway — биржа. Любая ошибка трактуется движком как «результата нет»;
// логирует ошибку сам шлюз.
type Gateway interface {
	Price(ctx context.Context) (float64, error)
	Balances(ctx context.Context) (models.Balances, error)
	MarketBuy(ctx context.Context, notionalQuote float64) (models.OrderRef, error)
	MarketSell(ctx context.Context, qtyBase float64) (models.OrderRef, error)
}

// StateStore — Load возвращает (nil, nil), если записи ещё нет.
type StateStore interface {
	Load(ctx context.Context) (*models.StrategyState, error)
	Save(ctx context.Context, st models.StrategyState) error
}

type Ledger interface {
	Append(ctx context.Context, t models.Trade) error
}

type Notifier interface {
	Sendf(ctx context.Context, format string, args ...any)
}

type Params struct {
	Pair           string
	BaseAsset      string
	QuoteAsset     string
	DropPct        float64
	RisePct        float64
	MinTrade       float64 // минимальный ордер в валюте котировки
	MaxPosition    float64 // максимальная позиция в валюте котировки
	TradingEnabled bool
	Location       *time.Location
	WindowSpan     time.Duration
}

type Option func(*Engine)

// WithClock подменяет часы (для тестов).
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// Engine — пороговая стратегия. Tick вызывается из одной горутины планировщика;
// снаружи безопасно читать только Snapshot.
type Engine struct {
	p      Params
	gw     Gateway
	store  StateStore
	ledger Ledger
	n      Notifier
	now    func() time.Time

	state           models.StrategyState
	window          *Window
	loadedFromState bool
	lastStatusHour  string

	statusMu sync.RWMutex
	status   models.Snapshot
}

func New(ctx context.Context, p Params, gw Gateway, store StateStore, ledger Ledger, n Notifier, opts ...Option) *Engine {
	if p.Location == nil {
		p.Location = time.UTC
	}
	e := &Engine{
		p:      p,
		gw:     gw,
		store:  store,
		ledger: ledger,
		n:      n,
		now:    time.Now,
		window: NewWindow(p.WindowSpan),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = models.Snapshot{
		Pair:           p.Pair,
		TradingEnabled: p.TradingEnabled,
	}
	e.loadState(ctx)
	return e
}

func (e *Engine) loadState(ctx context.Context) {
	st, err := e.store.Load(ctx)
	switch {
	case err != nil:
		metrics.IncPersistError("state")
		logger.Error("Failed to load state: %v. Starting fresh.", err)
		return
	case st == nil:
		logger.Info("No existing state found, starting fresh")
		return
	}

	loaded := st.Clone()
	if loaded.PositionQty <= models.PositionEpsilon {
		loaded.PositionQty = 0
		loaded.EntryPrice = nil
	}
	if err := loaded.Validate(); err != nil {
		logger.Error("Loaded state is inconsistent (%v). Starting fresh.", err)
		return
	}
	e.state = loaded
	e.loadedFromState = true
	logger.Info("Loaded state: pos_qty=%.6f, entry=%s, last_sell=%s, session_high=%s",
		loaded.PositionQty, fmtOpt(loaded.EntryPrice), fmtOpt(loaded.LastSellPrice), fmtOpt(loaded.SessionHigh))
}

// Probe — стартовая проверка API: без цены бот не запускается.
func (e *Engine) Probe(ctx context.Context) error {
	price, err := e.gw.Price(ctx)
	if err != nil {
		logger.Error("API connection failed - no price data received: %v", err)
		return errors.Wrap(err, "startup price probe")
	}
	if price <= 0 {
		logger.Error("API connection failed - invalid price %.8f", price)
		return errors.Errorf("startup price probe: invalid price %v", price)
	}
	logger.Info("API connection successful. Current %s price: %.2f", e.p.Pair, price)
	return nil
}

// Tick — один проход стратегии. Ошибка возвращается только когда нет цены:
// тогда состояние не трогаем, следующий тик по расписанию.
func (e *Engine) Tick(ctx context.Context) (err error) {
	ctx, finish := tracing.Start(ctx, "engine.tick")
	defer func() { finish(err) }()

	price, err := e.gw.Price(ctx)
	if err != nil {
		metrics.IncTick("no_price")
		return errors.Wrap(err, "no price, skipping tick")
	}
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		metrics.IncTick("no_price")
		return errors.Errorf("invalid price %v, skipping tick", price)
	}

	now := e.now()
	e.window.Insert(now, price)
	start24h, change24h := e.window.Change(price)

	bal, berr := e.gw.Balances(ctx)
	if berr != nil {
		logger.Warn("Balances unavailable, treating as 0: %v", berr)
		bal = models.Balances{}
	}

	baseline := e.state.BuyBaseline()
	var dropRef, riseRef *float64
	if baseline != nil {
		dropRef = models.Ptr(*baseline * (1.0 - e.p.DropPct))
	}
	if e.state.EntryPrice != nil {
		riseRef = models.Ptr(*e.state.EntryPrice * (1.0 + e.p.RisePct))
	}

	mode := models.ModeBuy
	if e.state.PositionQty > 0 {
		mode = models.ModeSell
	}

	var lastAction *string
	if e.loadedFromState && e.state.PositionQty > 0 && e.state.EntryPrice != nil {
		lastAction = models.Str(fmt.Sprintf("LOADED: BUY %.6f %s @ %.2f",
			e.state.PositionQty, e.p.BaseAsset, *e.state.EntryPrice))
	}

	e.setStatus(models.Snapshot{
		Timestamp:          e.timestamp(now),
		Pair:               e.p.Pair,
		TradingEnabled:     e.p.TradingEnabled,
		Price:              models.Ptr(price),
		SessionHigh:        models.Float(e.state.SessionHigh),
		EntryPrice:         models.Float(e.state.EntryPrice),
		PositionQty:        e.state.PositionQty,
		QuoteAvailable:     models.Ptr(bal.Quote),
		BaseAvailable:      models.Ptr(bal.Base),
		DropThresholdPrice: dropRef,
		RiseThresholdPrice: riseRef,
		Price24hStart:      start24h,
		Price24hChangePct:  change24h,
		Mode:               mode,
		LastSellPrice:      models.Float(e.state.LastSellPrice),
		LastAction:         lastAction,
	})
	metrics.SetPrice(price)
	metrics.SetPosition(e.state.PositionQty)

	if e.shouldLogHourly(now) {
		e.logStatus("hourly")
	}

	if e.state.PositionQty <= 0 {
		e.onFlat(ctx, now, price, bal)
	} else {
		e.onHolding(ctx, now, price, bal)
	}

	metrics.IncTick("ok")
	return nil
}

func (e *Engine) onFlat(ctx context.Context, now time.Time, price float64, bal models.Balances) {
	if e.state.SessionHigh == nil || price > *e.state.SessionHigh {
		e.state.SessionHigh = models.Ptr(price)
		e.persist(ctx)
	}

	baseline := e.state.BuyBaseline()
	if baseline == nil {
		return
	}
	dropCondition := price <= *baseline*(1.0-e.p.DropPct)
	logger.Debug("Flat: checking buy condition -> %t (price=%.4f, baseline=%.4f)", dropCondition, price, *baseline)
	if !dropCondition {
		return
	}
	metrics.IncSignal(string(models.SideBuy))

	usdCap := math.Min(e.p.MaxPosition, bal.Quote)
	if usdCap < e.p.MinTrade {
		logger.Info("Buy signal but insufficient %s: have %.2f, need >= %.2f", e.p.QuoteAsset, bal.Quote, e.p.MinTrade)
		e.tag(models.ActionBuySkippedNoFunds)
		return
	}

	baselineType := "session_high"
	if e.state.LastSellPrice != nil {
		baselineType = "last_sell"
	}
	logger.Info("Buy signal: price %.4f dropped >= %.1f%% from %s %.4f; sizing %.2f %s",
		price, e.p.DropPct*100, baselineType, *baseline, usdCap, e.p.QuoteAsset)

	if !e.p.TradingEnabled {
		e.tag(models.ActionBuySimulated)
		logger.Info("Trading disabled (dry-run): would BUY")
		return
	}

	ref, err := e.gw.MarketBuy(ctx, usdCap)
	if err != nil {
		metrics.IncOrder(string(models.SideBuy), "failed")
		return
	}
	metrics.IncOrder(string(models.SideBuy), "ok")

	e.state.EntryPrice = models.Ptr(price)
	e.state.PositionQty = usdCap / price
	e.persist(ctx)
	e.loadedFromState = false

	qty := e.state.PositionQty
	e.updateStatus(func(s *models.Snapshot) {
		s.EntryPrice = models.Ptr(price)
		s.PositionQty = qty
		s.LastAction = models.Str(models.ActionBuy)
	})
	metrics.IncAction(models.ActionBuy)
	metrics.SetPosition(qty)

	e.appendTrade(ctx, models.Trade{
		Time:     now,
		Pair:     e.p.Pair,
		Side:     models.SideBuy,
		Qty:      qty,
		Price:    price,
		OrderRef: ref.Ref(),
	})
	logger.Info("Bought ~%.6f %s at ~%.4f", qty, e.p.BaseAsset, price)
	e.logStatus("trade_buy")
	e.notify(ctx, "🟢 BUY %s %.6f @ %.4f (%.2f %s) ref=%s", e.p.Pair, qty, price, usdCap, e.p.QuoteAsset, ref.Ref())
}

func (e *Engine) onHolding(ctx context.Context, now time.Time, price float64, bal models.Balances) {
	if e.state.EntryPrice == nil {
		logger.Error("Holding %.8f %s without entry price, skipping sell check", e.state.PositionQty, e.p.BaseAsset)
		return
	}
	entry := *e.state.EntryPrice

	riseCondition := price >= entry*(1.0+e.p.RisePct)
	logger.Debug("Long: checking rise condition -> %t (price=%.4f, entry=%.4f)", riseCondition, price, entry)
	if !riseCondition {
		return
	}
	metrics.IncSignal(string(models.SideSell))

	qtyToSell := math.Min(e.state.PositionQty, bal.Base)
	if qtyToSell <= 0 {
		logger.Info("Sell signal but no %s available to sell (tracked %.6f, wallet %.6f)",
			e.p.BaseAsset, e.state.PositionQty, bal.Base)
		e.tag(models.ActionSellSkippedNoBalance)
		return
	}
	logger.Info("Sell signal: price %.4f rose >= %.1f%% from entry %.4f; sizing %.6f %s",
		price, e.p.RisePct*100, entry, qtyToSell, e.p.BaseAsset)

	if !e.p.TradingEnabled {
		e.tag(models.ActionSellSimulated)
		logger.Info("Trading disabled (dry-run): would SELL")
		return
	}

	ref, err := e.gw.MarketSell(ctx, qtyToSell)
	if err != nil {
		metrics.IncOrder(string(models.SideSell), "failed")
		return
	}
	metrics.IncOrder(string(models.SideSell), "ok")

	pnl := (price - entry) * qtyToSell
	logger.Info("Sold %.6f %s at ~%.4f, PnL %.2f %s", qtyToSell, e.p.BaseAsset, price, pnl, e.p.QuoteAsset)
	e.appendTrade(ctx, models.Trade{
		Time:     now,
		Pair:     e.p.Pair,
		Side:     models.SideSell,
		Qty:      qtyToSell,
		Price:    price,
		PnL:      models.Ptr(pnl),
		OrderRef: ref.Ref(),
	})
	metrics.ObservePnL(pnl)

	e.state.PositionQty -= qtyToSell
	if e.state.PositionQty <= models.PositionEpsilon {
		e.state.PositionQty = 0
		e.state.EntryPrice = nil
		e.state.LastSellPrice = models.Ptr(price)
		e.state.SessionHigh = models.Ptr(price)
	}
	e.persist(ctx)
	e.loadedFromState = false

	st := e.state.Clone()
	e.updateStatus(func(s *models.Snapshot) {
		s.PositionQty = st.PositionQty
		s.EntryPrice = st.EntryPrice
		s.SessionHigh = st.SessionHigh
		s.LastSellPrice = st.LastSellPrice
		s.LastAction = models.Str(models.ActionSell)
	})
	metrics.IncAction(models.ActionSell)
	metrics.SetPosition(st.PositionQty)

	e.logStatus("trade_sell")
	e.notify(ctx, "🔴 SELL %s %.6f @ %.4f PnL=%.2f %s ref=%s", e.p.Pair, qtyToSell, price, pnl, e.p.QuoteAsset, ref.Ref())
}

func (e *Engine) persist(ctx context.Context) {
	if err := e.store.Save(ctx, e.state.Clone()); err != nil {
		metrics.IncPersistError("state")
		logger.Error("Failed to save state: %v", err)
		return
	}
	logger.Debug("Saved state: pos_qty=%.6f", e.state.PositionQty)
}

func (e *Engine) appendTrade(ctx context.Context, t models.Trade) {
	if e.ledger == nil {
		return
	}
	if err := e.ledger.Append(ctx, t); err != nil {
		metrics.IncPersistError("ledger")
		logger.Error("Failed writing trade to ledger: %v", err)
	}
}

func (e *Engine) notify(ctx context.Context, format string, args ...any) {
	if e.n == nil {
		return
	}
	e.n.Sendf(ctx, format, args...)
}

func (e *Engine) tag(action string) {
	metrics.IncAction(action)
	e.updateStatus(func(s *models.Snapshot) {
		s.LastAction = models.Str(action)
	})
}

func (e *Engine) setStatus(s models.Snapshot) {
	e.statusMu.Lock()
	e.status = s
	e.statusMu.Unlock()
}

func (e *Engine) updateStatus(fn func(s *models.Snapshot)) {
	e.statusMu.Lock()
	fn(&e.status)
	e.statusMu.Unlock()
}

// Snapshot — копия последнего статуса. Указатели внутри не мутируются после публикации.
func (e *Engine) Snapshot() models.Snapshot {
	e.statusMu.RLock()
	defer e.statusMu.RUnlock()
	return e.status
}

// State — копия состояния стратегии. Вызывать из горутины тиков.
func (e *Engine) State() models.StrategyState {
	return e.state.Clone()
}

func (e *Engine) shouldLogHourly(now time.Time) bool {
	hour := now.In(e.p.Location).Format("2006-01-02T15")
	if hour == e.lastStatusHour {
		return false
	}
	e.lastStatusHour = hour
	return true
}

// logStatus пишет снапшот (без timestamp) одной строкой.
func (e *Engine) logStatus(reason string) {
	snap := e.Snapshot()
	bs, err := sonic.Marshal(snap.WithoutTimestamp())
	if err != nil {
		logger.Error("STATUS-%s: marshal failed: %v", strings.ToUpper(reason), err)
		return
	}
	logger.Info("STATUS-%s: %s", strings.ToUpper(reason), string(bs))
}

func (e *Engine) timestamp(t time.Time) string {
	return t.In(e.p.Location).Format(timestampLayout)
}

func fmtOpt(v *float64) string {
	if v == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.6f", *v)
}
