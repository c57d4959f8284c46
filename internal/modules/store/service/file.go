package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"threshold_bot/internal/models"

	"github.com/bytedance/sonic"
)

// Store — долговечное состояние стратегии. Load отдаёт (nil, nil), если записи нет.
type Store interface {
	Load(ctx context.Context) (*models.StrategyState, error)
	Save(ctx context.Context, st models.StrategyState) error
}

const timestampLayout = "2006-01-02 15:04:05"

// record — формат файла; отсутствующие значения пишутся как null.
type record struct {
	PositionQty   float64  `json:"position_qty"`
	EntryPrice    *float64 `json:"entry_price"`
	LastSellPrice *float64 `json:"last_sell_price"`
	SessionHigh   *float64 `json:"session_high"`
	Timestamp     string   `json:"timestamp"`
}

// File — JSON-файл рядом с ботом, запись через tmp+rename.
type File struct {
	path string
	loc  *time.Location
	now  func() time.Time

	mu sync.Mutex
}

func NewFile(path string, loc *time.Location) *File {
	if loc == nil {
		loc = time.UTC
	}
	return &File{path: path, loc: loc, now: time.Now}
}

func (f *File) Path() string { return f.path }

func (f *File) Load(_ context.Context) (*models.StrategyState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	b, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("File.Load: read %s: %w", f.path, err)
	}

	var rec record
	if err := sonic.Unmarshal(b, &rec); err != nil {
		return nil, fmt.Errorf("File.Load: decode %s: %w", f.path, err)
	}
	return &models.StrategyState{
		PositionQty:   rec.PositionQty,
		EntryPrice:    rec.EntryPrice,
		SessionHigh:   rec.SessionHigh,
		LastSellPrice: rec.LastSellPrice,
	}, nil
}

func (f *File) Save(_ context.Context, st models.StrategyState) (err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("File.Save: %w", err)
		}
	}()

	f.mu.Lock()
	defer f.mu.Unlock()

	rec := record{
		PositionQty:   st.PositionQty,
		EntryPrice:    st.EntryPrice,
		LastSellPrice: st.LastSellPrice,
		SessionHigh:   st.SessionHigh,
		Timestamp:     f.now().In(f.loc).Format(timestampLayout),
	}
	b, err := sonic.ConfigStd.MarshalIndent(&rec, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path) // атомарно
}
