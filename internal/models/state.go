package models

import "fmt"

// PositionEpsilon — остаток позиции (в базовой валюте), ниже которого позиция считается закрытой.
const PositionEpsilon = 1e-8

// StrategyState — единственное долговечное состояние стратегии.
// PositionQty > 0 тогда и только тогда, когда EntryPrice != nil.
type StrategyState struct {
	PositionQty   float64
	EntryPrice    *float64
	SessionHigh   *float64
	LastSellPrice *float64
}

// Flat — позиции нет.
func (s StrategyState) Flat() bool { return s.PositionQty <= 0 }

// BuyBaseline: цена последней продажи, если была, иначе session high.
func (s StrategyState) BuyBaseline() *float64 {
	if s.LastSellPrice != nil {
		return s.LastSellPrice
	}
	return s.SessionHigh
}

// Validate проверяет инвариант позиция <=> цена входа.
func (s StrategyState) Validate() error {
	if s.PositionQty < 0 {
		return fmt.Errorf("negative position qty %.8f", s.PositionQty)
	}
	if s.PositionQty > 0 && s.EntryPrice == nil {
		return fmt.Errorf("position %.8f without entry price", s.PositionQty)
	}
	if s.PositionQty == 0 && s.EntryPrice != nil {
		return fmt.Errorf("entry price %.6f without position", *s.EntryPrice)
	}
	return nil
}

// Clone копирует указатели, чтобы снаружи нельзя было мутировать состояние движка.
func (s StrategyState) Clone() StrategyState {
	return StrategyState{
		PositionQty:   s.PositionQty,
		EntryPrice:    Float(s.EntryPrice),
		SessionHigh:   Float(s.SessionHigh),
		LastSellPrice: Float(s.LastSellPrice),
	}
}

// Ptr возвращает указатель на копию v.
func Ptr(v float64) *float64 { return &v }

// Float копирует опциональное значение.
func Float(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
