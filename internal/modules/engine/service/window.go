package service

import "time"

// PriceSample — точка окна.
type PriceSample struct {
	At    time.Time
	Price float64
}

// Window — FIFO цен за последние span (по умолчанию 24h).
// Стартовая цена — самая старая оставшаяся точка, а не интерполяция ровно на span назад.
type Window struct {
	span    time.Duration
	samples []PriceSample
}

func NewWindow(span time.Duration) *Window {
	if span <= 0 {
		span = 24 * time.Hour
	}
	return &Window{span: span}
}

// Insert добавляет точку и выкидывает всё, что старше at-span.
func (w *Window) Insert(at time.Time, price float64) {
	w.samples = append(w.samples, PriceSample{At: at, Price: price})

	cutoff := at.Add(-w.span)
	i := 0
	for i < len(w.samples) && w.samples[i].At.Before(cutoff) {
		i++
	}
	if i > 0 {
		// сдвигаем на месте, чтобы не держать хвост старого массива
		w.samples = append(w.samples[:0], w.samples[i:]...)
	}
}

// Start — цена самой старой точки.
func (w *Window) Start() (float64, bool) {
	if len(w.samples) == 0 {
		return 0, false
	}
	return w.samples[0].Price, true
}

// Change возвращает стартовую цену и относительное изменение (nil, если считать не от чего).
func (w *Window) Change(price float64) (start *float64, pct *float64) {
	s, ok := w.Start()
	if !ok {
		return nil, nil
	}
	start = &s
	if s > 0 {
		v := (price - s) / s
		pct = &v
	}
	return start, pct
}

func (w *Window) Len() int { return len(w.samples) }

// Oldest — время самой старой точки (zero, если окно пустое).
func (w *Window) Oldest() time.Time {
	if len(w.samples) == 0 {
		return time.Time{}
	}
	return w.samples[0].At
}
