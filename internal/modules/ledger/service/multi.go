package service

import (
	"context"
	"errors"

	"threshold_bot/internal/models"
)

// Multi пишет сделку во все журналы по порядку: CSV первым, зеркала после.
// Сбой одного не останавливает остальные.
type Multi struct {
	ledgers []Ledger
}

func NewMulti(ledgers ...Ledger) *Multi {
	out := make([]Ledger, 0, len(ledgers))
	for _, l := range ledgers {
		if l != nil {
			out = append(out, l)
		}
	}
	return &Multi{ledgers: out}
}

func (m *Multi) Len() int { return len(m.ledgers) }

func (m *Multi) Append(ctx context.Context, t models.Trade) error {
	var errs []error
	for _, l := range m.ledgers {
		if err := l.Append(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
