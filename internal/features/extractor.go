package features

import (
	"math"
	"net/url"
	"strings"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
)

// #region extractor
// Extractor turns the action stream into fixed-width state and action
// vectors. It is driven by a logical clock: only AdvanceTo and
// UpdateFromAction move the reference time, so two extractors fed the same
// sequence produce identical vectors.
//
// An Extractor is not safe for concurrent use; Clone it per goroutine.
type Extractor struct {
	cfg Config

	now            float64
	started        bool
	sessionStart   float64
	lastActionTime float64
	lastSwitchTime float64

	history []string

	lastHour     window
	lastFiveMin  window
	clicks       window
	switchWindow window

	currentApp      string
	currentDomain   string
	currentLanguage string
	currentFileType string
	typingSpeed     float64
	contextSwitches int

	actionTypes *Vocabulary
	sources     *Vocabulary
}

// NewExtractor returns an extractor with an empty history. Zero-valued config
// fields fall back to DefaultConfig.
func NewExtractor(cfg Config) *Extractor {
	return &Extractor{
		cfg:          cfg.withDefaults(),
		lastHour:     newWindow(hourSpan, 3600),
		lastFiveMin:  newWindow(fiveSpan, 300),
		clicks:       newWindow(clickSpan, 600),
		switchWindow: newWindow(hourSpan, 3600),
		actionTypes:  NewVocabulary(action.Catalog),
		sources:      NewVocabulary(action.Sources),
	}
}

// Config returns the effective configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Now returns the current reference time in seconds.
func (e *Extractor) Now() float64 {
	return e.now
}

// AdvanceTo moves the reference time forward to ts. Earlier times are ignored.
func (e *Extractor) AdvanceTo(ts float64) {
	if ts > e.now {
		e.now = ts
	}
}

// Clone returns an independent deep copy.
func (e *Extractor) Clone() *Extractor {
	c := *e
	c.history = append([]string(nil), e.history...)
	c.lastHour = e.lastHour.clone()
	c.lastFiveMin = e.lastFiveMin.clone()
	c.clicks = e.clicks.clone()
	c.switchWindow = e.switchWindow.clone()
	c.actionTypes = e.actionTypes.clone()
	c.sources = e.sources.clone()
	return &c
}

// ActionTypes exposes the action-type vocabulary for introspection.
func (e *Extractor) ActionTypes() *Vocabulary {
	return e.actionTypes
}

// Snapshot reports the running context at the current reference time.
func (e *Extractor) Snapshot() Snapshot {
	return Snapshot{
		App:             e.currentApp,
		Domain:          e.currentDomain,
		Language:        e.currentLanguage,
		FileType:        e.currentFileType,
		TypingSpeed:     e.typingSpeed,
		ClicksPerMinute: e.clicks.count(e.now),
		ContextSwitches: e.contextSwitches,
		ActionsLastHour: e.lastHour.count(e.now),
		History:         append([]string(nil), e.history...),
		Now:             e.now,
	}
}
// #endregion extractor

// #region state-vector
// ExtractStateVector encodes the current context. It does not mutate the extractor.
func (e *Extractor) ExtractStateVector() []float32 {
	w := newWriter(e.cfg.StateDim)
	now := e.now

	// temporal
	t := action.TimeOf(now).In(e.cfg.Location)
	w.put(float32(t.Hour()) / 24)
	w.hot(7, (int(t.Weekday())+6)%7)
	w.put(float32(clamp01(e.sinceLastAction() / maxSinceLast)))
	session := 0.0
	if e.started {
		session = now - e.sessionStart
	}
	w.put(float32(clamp01(session / maxSession)))

	// context
	w.hotIf(appSlots, e.currentApp)
	w.hotIf(languageSlots, e.currentLanguage)
	w.hotIf(domainSlots, e.currentDomain)
	w.hotIf(fileTypeSlots, e.currentFileType)

	// activity
	inContext := e.timeInContext()
	w.put(float32(clamp01(e.typingSpeed / maxTypingSpeed)))
	w.put(float32(clamp01(float64(e.clicks.count(now)) / maxClicksPerMinute)))
	w.put(float32(clamp01(float64(e.switchWindow.count(now)) / maxSwitchesPerHour)))
	w.put(float32(clamp01(float64(e.lastHour.count(now)) / maxActionsPerHour)))
	w.put(float32(clamp01(float64(e.lastFiveMin.count(now)) / maxActionsPer5Min)))
	w.put(float32(clamp01(inContext / maxTimeInContext)))

	// behavioral
	w.put(StuckIndicator(e.sinceLastAction()))
	w.put(FocusScore(inContext))
	w.put(EnergyScore(e.lastFiveMin.count(now)))

	// history, oldest first
	for i := 0; i < historyLen; i++ {
		if i < len(e.history) {
			w.hot(historySlots, HashSlot(e.history[i], historySlots))
		} else {
			w.skip(historySlots)
		}
	}
	if n := len(e.history); n > 0 {
		w.hot(lastTypeSlots, e.actionTypes.Slot(e.history[n-1], lastTypeSlots))
	}

	return w.vec
}

func (e *Extractor) sinceLastAction() float64 {
	if !e.started {
		return 0
	}
	return math.Max(0, e.now-e.lastActionTime)
}

func (e *Extractor) timeInContext() float64 {
	if !e.started {
		return 0
	}
	return math.Max(0, e.now-e.lastSwitchTime)
}
// #endregion state-vector

// #region action-vector
// ExtractActionVector encodes a single action. It does not mutate the extractor.
func (e *Extractor) ExtractActionVector(a action.Action) []float32 {
	w := newWriter(e.cfg.ActionDim)

	w.hot(actionTypeSlots, e.actionTypes.Slot(typeOf(a), actionTypeSlots))
	w.hot(actionSourceSlot, e.sources.Slot(sourceOf(a), actionSourceSlot))
	w.put(float32(clamp01(durationOf(a.Context) / maxDuration)))
	w.put(ProductivityScore(a.ActionType, a.Context))
	w.put(float32(clamp01(a.Context.Float("scrollPercentage") / 100)))
	w.put(float32(clamp01(a.Context.Float("typingSpeed") / maxTypingSpeed)))

	return w.vec
}

func durationOf(ctx action.Context) float64 {
	for _, key := range []string{"duration", "timeOnPage", "duration_on_previous"} {
		if d, ok := ctx.FloatOK(key); ok {
			return d
		}
	}
	return 0
}

func typeOf(a action.Action) string {
	if a.ActionType == "" {
		return "unknown"
	}
	return a.ActionType
}

func sourceOf(a action.Action) string {
	if a.Source == "" {
		return "unknown"
	}
	return a.Source
}
// #endregion action-vector

// #region update
// UpdateFromAction folds a into the running context and advances the clock to
// its timestamp. A zero timestamp is treated as "now".
func (e *Extractor) UpdateFromAction(a action.Action) {
	ts := a.Timestamp
	if ts == 0 {
		ts = e.now
	}
	if !e.started {
		e.started = true
		e.sessionStart = ts
		e.lastActionTime = ts
		e.lastSwitchTime = ts
	}
	e.AdvanceTo(ts)

	kind := typeOf(a)
	e.history = append(e.history, kind)
	if len(e.history) > historyLen {
		e.history = e.history[len(e.history)-historyLen:]
	}
	e.lastHour.add(ts)
	e.lastFiveMin.add(ts)
	if ts > e.lastActionTime {
		e.lastActionTime = ts
	}
	e.actionTypes.Observe(kind)
	e.sources.Observe(sourceOf(a))

	e.updateContext(a, ts)
	e.updateActivity(a, ts)
}

func (e *Extractor) updateContext(a action.Action, ts float64) {
	ctx := a.Context
	switch a.Source {
	case "chrome":
		if d := ctx.String("domain"); d != "" {
			e.currentDomain = d
		}
		if raw := ctx.String("url"); raw != "" {
			if u, err := url.Parse(raw); err == nil && u.Hostname() != "" {
				e.currentDomain = u.Hostname()
			}
		}
	case "vscode":
		e.currentApp = "vscode"
		if lang := ctx.String("language"); lang != "" {
			e.currentLanguage = lang
		}
		if file := ctx.String("file"); file != "" {
			e.currentFileType = extensionOf(file)
		}
	default:
		if app := ctx.String("application"); app != "" {
			e.currentApp = app
		} else if app := ctx.String("app"); app != "" {
			e.currentApp = app
		}
	}

	if action.IsContextSwitch(a.ActionType) {
		e.contextSwitches++
		e.lastSwitchTime = ts
		e.switchWindow.add(ts)
	}
}

func (e *Extractor) updateActivity(a action.Action, ts float64) {
	switch a.ActionType {
	case "keystroke", "activity_summary":
		if speed, ok := a.Context.FloatOK("typingSpeed"); ok {
			e.typingSpeed = speed
		}
	case "mouse_click":
		e.clicks.add(ts)
	}
	e.clicks.prune(ts)
}

func extensionOf(file string) string {
	if i := strings.LastIndex(file, "."); i >= 0 {
		return file[i+1:]
	}
	return file
}
// #endregion update

// #region writer
// writer fills a fixed-width vector block by block. Writes past the end are
// dropped, so an undersized dimension truncates instead of overflowing.
type writer struct {
	vec []float32
	pos int
}

func newWriter(dim int) *writer {
	return &writer{vec: make([]float32, dim)}
}

func (w *writer) put(v float32) {
	if w.pos < len(w.vec) {
		w.vec[w.pos] = v
	}
	w.pos++
}

func (w *writer) hot(width, slot int) {
	if slot >= 0 && slot < width {
		if i := w.pos + slot; i < len(w.vec) {
			w.vec[i] = 1
		}
	}
	w.pos += width
}

// hotIf writes a hashed one-hot for value, or leaves the block zero when value is empty.
func (w *writer) hotIf(width int, value string) {
	if value == "" {
		w.skip(width)
		return
	}
	w.hot(width, HashSlot(value, width))
}

func (w *writer) skip(width int) {
	w.pos += width
}
// #endregion writer
