package models

type Mode string

const (
	ModeBuy  Mode = "BUY MODE"
	ModeSell Mode = "SELL MODE"
)

// Теги last_action в снапшоте.
const (
	ActionBuy                  = "buy"
	ActionSell                 = "sell"
	ActionBuySimulated         = "buy_simulated"
	ActionSellSimulated        = "sell_simulated"
	ActionBuySkippedNoFunds    = "buy_skipped_insufficient_usd"
	ActionSellSkippedNoBalance = "sell_skipped_no_xmr"
)

// Snapshot — то, что видит дашборд и логи статуса.
type Snapshot struct {
	Timestamp          string   `json:"timestamp"`
	Pair               string   `json:"pair"`
	TradingEnabled     bool     `json:"trading_enabled"`
	Price              *float64 `json:"price"`
	SessionHigh        *float64 `json:"session_high"`
	EntryPrice         *float64 `json:"entry_price"`
	PositionQty        float64  `json:"position_qty"`
	QuoteAvailable     *float64 `json:"quote_available"`
	BaseAvailable      *float64 `json:"base_available"`
	DropThresholdPrice *float64 `json:"drop_threshold_price"`
	RiseThresholdPrice *float64 `json:"rise_threshold_price"`
	Price24hStart      *float64 `json:"price_24h_start"`
	Price24hChangePct  *float64 `json:"price_24h_change_pct"`
	Mode               Mode     `json:"mode"`
	LastSellPrice      *float64 `json:"last_sell_price"`
	LastAction         *string  `json:"last_action"`
}

// WithoutTimestamp — копия для логов статуса.
func (s Snapshot) WithoutTimestamp() map[string]any {
	return map[string]any{
		"pair":                 s.Pair,
		"trading_enabled":      s.TradingEnabled,
		"price":                s.Price,
		"session_high":         s.SessionHigh,
		"entry_price":          s.EntryPrice,
		"position_qty":         s.PositionQty,
		"quote_available":      s.QuoteAvailable,
		"base_available":       s.BaseAvailable,
		"drop_threshold_price": s.DropThresholdPrice,
		"rise_threshold_price": s.RiseThresholdPrice,
		"price_24h_start":      s.Price24hStart,
		"price_24h_change_pct": s.Price24hChangePct,
		"mode":                 s.Mode,
		"last_sell_price":      s.LastSellPrice,
		"last_action":          s.LastAction,
	}
}

func Str(s string) *string { return &s }
