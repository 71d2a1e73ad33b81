// Package indicator implements the per-symbol bounded-history indicator
// contract strategies update on every bar and read from when composing
// BarProcessed events.
package indicator

import (
	"math"
	"sync"

	"github.com/nilskujath/onesecondtrader/internal/events"
)

// PlotHint is optional metadata for the recorder/dashboard; it has no
// behavioral significance.
type PlotHint struct {
	PanelID int
	Style   string
	Color   string
}

// Indicator is implemented by every concrete indicator. Update is called
// once per bar in strategy registration order; Latest and At are safe to
// call from any goroutine even though, in this architecture, only the
// owning strategy's worker ever calls them (§9: "keep the lock... to
// preserve the contract... as the source allows").
type Indicator interface {
	// Name is the stable string used as the key in BarProcessed.Indicators.
	Name() string
	// Update routes a new bar into the indicator's per-symbol history.
	Update(bar events.BarReceived)
	// Latest returns the most recently appended value for symbol, or NaN
	// if the symbol is unknown or no full window has been observed yet.
	Latest(symbol string) float64
	// At returns the value at position i relative to the latest value,
	// with Python-like negative indexing: At(symbol, 0) is latest,
	// At(symbol, -1) is the value before that. Out-of-range returns NaN.
	At(symbol string, i int) float64
	// Hint returns the optional plot metadata for this indicator.
	Hint() PlotHint
	// IsPassthrough reports whether this indicator is one of the built-in
	// OHLCV passthroughs, which are excluded from BarProcessed.Indicators
	// per §4.4 step 4.
	IsPassthrough() bool
}

// history is a per-symbol bounded FIFO of float64, shared by every
// built-in indicator in this package. Computation happens outside the
// lock; only append-and-evict is locked, per §4.3.
type history struct {
	mu       sync.Mutex
	capacity int
	bySymbol map[string][]float64
}

func newHistory(capacity int) *history {
	if capacity < 1 {
		capacity = 1
	}
	return &history{capacity: capacity, bySymbol: make(map[string][]float64)}
}

func (h *history) append(symbol string, value float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.bySymbol[symbol]
	buf = append(buf, value)
	if len(buf) > h.capacity {
		buf = buf[len(buf)-h.capacity:]
	}
	h.bySymbol[symbol] = buf
}

func (h *history) at(symbol string, i int) float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.bySymbol[symbol]
	if !ok || len(buf) == 0 {
		return math.NaN()
	}
	idx := len(buf) - 1 + i
	if idx < 0 || idx >= len(buf) {
		return math.NaN()
	}
	return buf[idx]
}

func (h *history) latest(symbol string) float64 {
	return h.at(symbol, 0)
}

// passthrough exposes one raw OHLCV field of the bar as an indicator,
// excluded from BarProcessed.Indicators by IsPassthrough.
type passthrough struct {
	name    string
	hist    *history
	extract func(events.BarReceived) float64
}

func newPassthrough(name string, extract func(events.BarReceived) float64) *passthrough {
	return &passthrough{name: name, hist: newHistory(1), extract: extract}
}

func (p *passthrough) Name() string { return p.name }
func (p *passthrough) Update(bar events.BarReceived) {
	p.hist.append(bar.Symbol, p.extract(bar))
}
func (p *passthrough) Latest(symbol string) float64       { return p.hist.latest(symbol) }
func (p *passthrough) At(symbol string, i int) float64     { return p.hist.at(symbol, i) }
func (p *passthrough) Hint() PlotHint                      { return PlotHint{} }
func (p *passthrough) IsPassthrough() bool                 { return true }

// NewOpenIndicator exposes bar.Open.
func NewOpenIndicator() Indicator {
	return newPassthrough("OPEN", func(b events.BarReceived) float64 { return b.Open })
}

// NewHighIndicator exposes bar.High.
func NewHighIndicator() Indicator {
	return newPassthrough("HIGH", func(b events.BarReceived) float64 { return b.High })
}

// NewLowIndicator exposes bar.Low.
func NewLowIndicator() Indicator {
	return newPassthrough("LOW", func(b events.BarReceived) float64 { return b.Low })
}

// NewCloseIndicator exposes bar.Close.
func NewCloseIndicator() Indicator {
	return newPassthrough("CLOSE", func(b events.BarReceived) float64 { return b.Close })
}

// NewVolumeIndicator exposes bar.Volume, or NaN if the bar carries none.
func NewVolumeIndicator() Indicator {
	return newPassthrough("VOLUME", func(b events.BarReceived) float64 {
		if b.Volume == nil {
			return math.NaN()
		}
		return float64(*b.Volume)
	})
}

// SMA is a simple moving average over closing price with a configurable
// period. It returns NaN until `period` bars have been observed for a
// given symbol. name lets a strategy register more than one SMA (e.g.
// fast/slow) with distinct keys in BarProcessed.Indicators.
type SMA struct {
	name   string
	period int
	hint   PlotHint
	hist   *history

	mu      sync.Mutex
	sums    map[string]float64
	windows map[string][]float64
}

// NewSMAIndicator constructs a named simple moving average over closing
// price, grounded on the teacher's TrendFollowingStrategy crossover shape
// (two differently-keyed moving averages compared against each other).
func NewSMAIndicator(name string, period int, hint PlotHint) Indicator {
	return &SMA{
		name:    name,
		period:  period,
		hint:    hint,
		hist:    newHistory(1),
		sums:    make(map[string]float64),
		windows: make(map[string][]float64),
	}
}

func (s *SMA) Name() string { return s.name }

func (s *SMA) Update(bar events.BarReceived) {
	s.mu.Lock()
	window := s.windows[bar.Symbol]
	window = append(window, bar.Close)
	s.sums[bar.Symbol] += bar.Close
	if len(window) > s.period {
		s.sums[bar.Symbol] -= window[0]
		window = window[1:]
	}
	s.windows[bar.Symbol] = window
	complete := len(window) == s.period
	var value float64
	if complete {
		value = s.sums[bar.Symbol] / float64(s.period)
	} else {
		value = math.NaN()
	}
	s.mu.Unlock()
	s.hist.append(bar.Symbol, value)
}

func (s *SMA) Latest(symbol string) float64   { return s.hist.latest(symbol) }
func (s *SMA) At(symbol string, i int) float64 { return s.hist.at(symbol, i) }
func (s *SMA) Hint() PlotHint                  { return s.hint }
func (s *SMA) IsPassthrough() bool             { return false }

// EMA is an exponential moving average over closing price with a
// configurable period. The first bar seeds the average with the raw
// close; every subsequent bar applies the standard recurrence with
// smoothing factor alpha = 2/(period+1). name lets a strategy register
// more than one EMA with distinct keys in BarProcessed.Indicators.
type EMA struct {
	name   string
	period int
	alpha  float64
	hint   PlotHint
	hist   *history

	mu    sync.Mutex
	state map[string]float64
}

// NewEMAIndicator constructs a named exponential moving average over
// closing price, grounded on the same per-symbol history/warmup shape as
// NewSMAIndicator and NewWilderRSI.
func NewEMAIndicator(name string, period int, hint PlotHint) Indicator {
	return &EMA{
		name:   name,
		period: period,
		alpha:  2.0 / (float64(period) + 1.0),
		hint:   hint,
		hist:   newHistory(1),
		state:  make(map[string]float64),
	}
}

func (e *EMA) Name() string { return e.name }

func (e *EMA) Update(bar events.BarReceived) {
	e.mu.Lock()
	prev, ok := e.state[bar.Symbol]
	var value float64
	if !ok {
		value = bar.Close
	} else {
		value = e.alpha*bar.Close + (1-e.alpha)*prev
	}
	e.state[bar.Symbol] = value
	e.mu.Unlock()
	e.hist.append(bar.Symbol, value)
}

func (e *EMA) Latest(symbol string) float64   { return e.hist.latest(symbol) }
func (e *EMA) At(symbol string, i int) float64 { return e.hist.at(symbol, i) }
func (e *EMA) Hint() PlotHint                  { return e.hint }
func (e *EMA) IsPassthrough() bool             { return false }

// WilderRSI is a Wilder-smoothed relative strength index with the
// canonical multi-phase warmup (§4.3): bar 0 seeds the previous close,
// bars 1..period accumulate simple average gain/loss, and from bar
// period+1 onward the Wilder recurrence smooths the running average.
// Grounded on original_source/indicators/wilders and on the teacher's
// inline Wilder recurrence in RSIDivergenceStrategy.
type WilderRSI struct {
	name   string
	period int
	hint   PlotHint
	hist   *history

	mu    sync.Mutex
	state map[string]*wilderState
}

type wilderState struct {
	prevClose   float64
	gainSum     float64
	lossSum     float64
	avgGain     float64
	avgLoss     float64
	count       int
	initialized bool
}

// NewWilderRSI constructs a Wilder-smoothed RSI indicator over the given
// period.
func NewWilderRSI(name string, period int, hint PlotHint) Indicator {
	return &WilderRSI{
		name:   name,
		period: period,
		hint:   hint,
		hist:   newHistory(1),
		state:  make(map[string]*wilderState),
	}
}

func (w *WilderRSI) Name() string { return w.name }

func (w *WilderRSI) Update(bar events.BarReceived) {
	w.mu.Lock()
	st, ok := w.state[bar.Symbol]
	if !ok {
		st = &wilderState{prevClose: bar.Close, initialized: true}
		w.state[bar.Symbol] = st
		w.mu.Unlock()
		w.hist.append(bar.Symbol, math.NaN())
		return
	}

	change := bar.Close - st.prevClose
	st.prevClose = bar.Close
	gain, loss := 0.0, 0.0
	if change > 0 {
		gain = change
	} else {
		loss = -change
	}
	st.count++

	var value float64
	switch {
	case st.count < w.period:
		// Accumulation phase: simple running sum, no value yet.
		st.gainSum += gain
		st.lossSum += loss
		value = math.NaN()
	case st.count == w.period:
		// First full window: seed the Wilder averages from the simple
		// average of the accumulated period.
		st.gainSum += gain
		st.lossSum += loss
		st.avgGain = st.gainSum / float64(w.period)
		st.avgLoss = st.lossSum / float64(w.period)
		value = rsiFromAverages(st.avgGain, st.avgLoss)
	default:
		// Steady state: Wilder smoothing recurrence.
		st.avgGain = (st.avgGain*float64(w.period-1) + gain) / float64(w.period)
		st.avgLoss = (st.avgLoss*float64(w.period-1) + loss) / float64(w.period)
		value = rsiFromAverages(st.avgGain, st.avgLoss)
	}
	w.mu.Unlock()
	w.hist.append(bar.Symbol, value)
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		if avgGain == 0 {
			return 50
		}
		return 100
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs))
}

func (w *WilderRSI) Latest(symbol string) float64   { return w.hist.latest(symbol) }
func (w *WilderRSI) At(symbol string, i int) float64 { return w.hist.at(symbol, i) }
func (w *WilderRSI) Hint() PlotHint                  { return w.hint }
func (w *WilderRSI) IsPassthrough() bool             { return false }
