package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"threshold_bot/internal/models"

	"github.com/shopspring/decimal"
)

// Ledger — журнал сделок, только добавление.
type Ledger interface {
	Append(ctx context.Context, t models.Trade) error
}

const timestampLayout = "2006-01-02 15:04:05"

var Header = []string{"timestamp", "pair", "side", "qty_base", "price_quote", "notional_quote", "pnl_quote", "order_ref"}

// CSV дописывает строки в файл; заголовок пишется, только если файла ещё нет (или он пуст).
type CSV struct {
	path string
	loc  *time.Location

	mu sync.Mutex
}

func NewCSV(path string, loc *time.Location) *CSV {
	if loc == nil {
		loc = time.UTC
	}
	return &CSV{path: path, loc: loc}
}

func (c *CSV) Path() string { return c.path }

func (c *CSV) Append(_ context.Context, t models.Trade) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("CSV.Append: %w", err)
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(c.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	if err := w.Write(Row(t, c.loc)); err != nil {
		return err
	}
	w.Flush()
	return w.Error()
}

// Row — строка журнала: qty 8 знаков, цена 6, нотионал и PnL по 2, пустые поля для отсутствующих.
func Row(t models.Trade, loc *time.Location) []string {
	pnl := ""
	if t.PnL != nil {
		pnl = decimal.NewFromFloat(*t.PnL).StringFixed(2)
	}
	return []string{
		t.Time.In(loc).Format(timestampLayout),
		t.Pair,
		string(t.Side),
		decimal.NewFromFloat(t.Qty).StringFixed(8),
		decimal.NewFromFloat(t.Price).StringFixed(6),
		decimal.NewFromFloat(t.Notional()).StringFixed(2),
		pnl,
		t.OrderRef,
	}
}
