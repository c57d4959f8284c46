package models

import (
	"strings"
	"time"
)

type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Balances — доступные остатки по паре.
type Balances struct {
	Base  float64
	Quote float64
}

// OrderRef — ответ биржи на ордер. TxIDs может быть пустым, если биржа их не вернула.
type OrderRef struct {
	TxIDs         []string
	ClientOrderID string
}

// Ref — идентификаторы через запятую, "" если их нет.
func (o OrderRef) Ref() string {
	return strings.Join(o.TxIDs, ",")
}

// Trade — одна строка журнала сделок.
type Trade struct {
	Time     time.Time
	Pair     string
	Side     Side
	Qty      float64
	Price    float64
	PnL      *float64
	OrderRef string
}

func (t Trade) Notional() float64 { return t.Qty * t.Price }
