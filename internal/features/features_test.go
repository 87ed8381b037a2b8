package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
)

// 2024-01-01 is a Monday.
var monday = float64(time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC).Unix())

func sampleActions() []action.Action {
	return []action.Action{
		{Timestamp: monday, Source: "vscode", ActionType: "file_edit",
			Context: action.Context{"file": "main.go", "language": "go", "linesChanged": 20}},
		{Timestamp: monday + 30, Source: "vscode", ActionType: "keystroke",
			Context: action.Context{"typingSpeed": 60}},
		{Timestamp: monday + 45, Source: "chrome", ActionType: "tab_switch",
			Context: action.Context{"url": "https://github.com/org/repo"}},
		{Timestamp: monday + 60, Source: "system", ActionType: "mouse_click",
			Context: action.Context{"application": "Terminal"}},
		{Timestamp: monday + 400, Source: "chrome", ActionType: "tab_visit",
			Context: action.Context{"domain": "docs.python.org", "timeOnPage": 120}},
	}
}

func TestVectorLengths(t *testing.T) {
	for _, cfg := range []Config{
		DefaultConfig(),
		{StateDim: 64, ActionDim: 16},
		{StateDim: 300, ActionDim: 80},
	} {
		e := NewExtractor(cfg)
		require.Len(t, e.ExtractStateVector(), e.Config().StateDim)
		for _, a := range sampleActions() {
			require.Len(t, e.ExtractActionVector(a), e.Config().ActionDim)
			e.UpdateFromAction(a)
			require.Len(t, e.ExtractStateVector(), e.Config().StateDim)
		}
	}
}

func TestZeroConfigUsesDefaults(t *testing.T) {
	e := NewExtractor(Config{})
	assert.Equal(t, 192, e.Config().StateDim)
	assert.Equal(t, 48, e.Config().ActionDim)
	assert.Equal(t, time.UTC, e.Config().Location)
}

func TestDeterministicAcrossInstances(t *testing.T) {
	a := NewExtractor(DefaultConfig())
	b := NewExtractor(DefaultConfig())

	for _, act := range sampleActions() {
		a.AdvanceTo(act.Timestamp)
		b.AdvanceTo(act.Timestamp)
		require.Equal(t, a.ExtractStateVector(), b.ExtractStateVector())
		require.Equal(t, a.ExtractActionVector(act), b.ExtractActionVector(act))
		a.UpdateFromAction(act)
		b.UpdateFromAction(act)
	}
	assert.Equal(t, a.ExtractStateVector(), b.ExtractStateVector())
}

func TestStateChangesAfterUpdate(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	e.UpdateFromAction(action.Action{Timestamp: monday, Source: "system", ActionType: "app_switch",
		Context: action.Context{"application": "Slack"}})

	next := action.Action{Timestamp: monday, Source: "system", ActionType: "app_switch",
		Context: action.Context{"application": "Terminal"}}
	before := e.ExtractStateVector()
	e.UpdateFromAction(next)
	after := e.ExtractStateVector()

	assert.NotEqual(t, before, after)
}

func TestTemporalBlock(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	e.UpdateFromAction(action.Action{Timestamp: monday, Source: "vscode", ActionType: "file_edit"})
	e.AdvanceTo(monday + 1800)

	v := e.ExtractStateVector()
	assert.InDelta(t, 10.0/24, v[0], 1e-6)
	assert.Equal(t, float32(1), v[1], "monday slot")
	for i := 2; i < 8; i++ {
		assert.Zero(t, v[i])
	}
	assert.InDelta(t, 0.5, v[8], 1e-6, "since last action")
	assert.InDelta(t, 1800.0/28800, v[9], 1e-6, "session duration")
}

func TestFreshExtractorHasNoElapsedTime(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	e.AdvanceTo(monday)
	v := e.ExtractStateVector()
	assert.Zero(t, v[8])
	assert.Zero(t, v[9])
}

func TestAdvanceToNeverGoesBackward(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	e.AdvanceTo(monday + 100)
	e.AdvanceTo(monday)
	assert.Equal(t, monday+100, e.Now())
}

func TestContextUpdates(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	for _, a := range sampleActions() {
		e.UpdateFromAction(a)
	}
	snap := e.Snapshot()

	assert.Equal(t, "Terminal", snap.App)
	assert.Equal(t, "docs.python.org", snap.Domain)
	assert.Equal(t, "go", snap.Language)
	assert.Equal(t, "go", snap.FileType)
	assert.Equal(t, 60.0, snap.TypingSpeed)
	assert.Equal(t, 1, snap.ContextSwitches)
	assert.Equal(t, 5, snap.ActionsLastHour)
	assert.Zero(t, snap.ClicksPerMinute, "click is older than a minute")
}

func TestURLHostnameOverridesDomain(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	e.UpdateFromAction(action.Action{Timestamp: monday, Source: "chrome", ActionType: "page_load",
		Context: action.Context{"domain": "old.example", "url": "https://news.example.com/a?b=c"}})
	assert.Equal(t, "news.example.com", e.Snapshot().Domain)
}

func TestClickRateCountsLastMinute(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	for i := 0; i < 30; i++ {
		e.UpdateFromAction(action.Action{Timestamp: monday + float64(i), Source: "system", ActionType: "mouse_click"})
	}
	assert.Equal(t, 30, e.Snapshot().ClicksPerMinute)

	e.AdvanceTo(monday + 200)
	assert.Zero(t, e.Snapshot().ClicksPerMinute)
}

func TestHistoryIsBounded(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	types := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i, kind := range types {
		e.UpdateFromAction(action.Action{Timestamp: monday + float64(i), ActionType: kind})
	}
	assert.Equal(t, []string{"c", "d", "e", "f", "g"}, e.Snapshot().History)
}

func TestActionVectorLayout(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	a := action.Action{Source: "chrome", ActionType: "tab_visit",
		Context: action.Context{"domain": "stackoverflow.com", "timeOnPage": 1800, "scrollPercentage": 50}}
	v := e.ExtractActionVector(a)

	idx, _ := action.CatalogIndex("tab_visit")
	assert.Equal(t, float32(1), v[idx])
	assert.Equal(t, float32(1), v[30+1], "chrome is the second seeded source")
	assert.InDelta(t, 0.5, v[35], 1e-6, "duration")
	assert.InDelta(t, 0.7, v[36], 1e-6, "productivity")
	assert.InDelta(t, 0.5, v[37], 1e-6, "scroll")
	assert.Zero(t, v[38])
	for i := 39; i < len(v); i++ {
		assert.Zero(t, v[i], "padding at %d", i)
	}
}

func TestCatalogTypesGetDistinctSlots(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	seen := map[int]string{}
	for _, kind := range action.Catalog {
		v := e.ExtractActionVector(action.Action{Source: "vscode", ActionType: kind})
		slot := -1
		for i := 0; i < 30; i++ {
			if v[i] == 1 {
				slot = i
			}
		}
		require.NotEqual(t, -1, slot)
		_, dup := seen[slot]
		require.False(t, dup, "%s collides with %s", kind, seen[slot])
		seen[slot] = kind
	}
}

func TestVocabularySlotsIgnoreObservationOrder(t *testing.T) {
	a := NewVocabulary(action.Catalog)
	b := NewVocabulary(action.Catalog)
	a.Observe("git_commit")
	a.Observe("file_edit")
	b.Observe("file_edit")

	for _, v := range []string{"git_commit", "file_edit", "unknown", "test_run"} {
		assert.Equal(t, a.Slot(v, 30), b.Slot(v, 30))
		assert.Equal(t, a.Slot(v, 50), b.Slot(v, 50))
	}
	assert.Equal(t, []string{"git_commit", "file_edit"}, a.Seen())
	assert.Equal(t, 1, a.Count("file_edit"))
}

func TestVocabularyHashesIntoTail(t *testing.T) {
	v := NewVocabulary([]string{"x", "y"})
	assert.Equal(t, 0, v.Slot("x", 10))
	assert.Equal(t, 1, v.Slot("y", 10))
	s := v.Slot("other", 10)
	assert.GreaterOrEqual(t, s, 2)
	assert.Less(t, s, 10)

	// seeds wider than the block fall back to hashing across the block
	s = v.Slot("y", 1)
	assert.Equal(t, 0, s)
}

func TestHashSlotIsFNV1a(t *testing.T) {
	// FNV-1a 32 of "a" is 0xe40c292c.
	assert.Equal(t, int(uint32(0xe40c292c)%10), HashSlot("a", 10))
	assert.Equal(t, 0, HashSlot("anything", 0))
}

func TestCloneIsIndependent(t *testing.T) {
	e := NewExtractor(DefaultConfig())
	for _, a := range sampleActions()[:3] {
		e.UpdateFromAction(a)
	}
	before := e.ExtractStateVector()

	c := e.Clone()
	for _, a := range sampleActions()[3:] {
		c.UpdateFromAction(a)
	}

	assert.Equal(t, before, e.ExtractStateVector())
	assert.NotEqual(t, before, c.ExtractStateVector())
	assert.Len(t, e.Snapshot().History, 3)
}

func TestIndicators(t *testing.T) {
	assert.Equal(t, float32(0), StuckIndicator(300))
	assert.Equal(t, float32(1), StuckIndicator(301))

	assert.InDelta(t, 0.5, FocusScore(1800), 1e-6)
	assert.Equal(t, float32(1), FocusScore(7200))

	assert.InDelta(t, 0.5, EnergyScore(50), 1e-6)
	assert.Equal(t, float32(1), EnergyScore(500))

	assert.InDelta(t, 0.9, ProductivityScore("file_edit", nil), 1e-6)
	assert.InDelta(t, 1.0, ProductivityScore("file_edit", action.Context{"linesChanged": 50}), 1e-6)
	assert.InDelta(t, 0.4, ProductivityScore("tab_visit", action.Context{"domain": "news.com"}), 1e-6)
	assert.InDelta(t, 0.7, ProductivityScore("tab_visit", action.Context{"domain": "en.wikipedia.org"}), 1e-6)
	assert.InDelta(t, 0.5, ProductivityScore("coffee_break", nil), 1e-6)
}

func TestUndersizedStateTruncates(t *testing.T) {
	e := NewExtractor(Config{StateDim: 12, ActionDim: 4})
	for _, a := range sampleActions() {
		e.UpdateFromAction(a)
	}
	assert.Len(t, e.ExtractStateVector(), 12)
	assert.Len(t, e.ExtractActionVector(sampleActions()[0]), 4)
}

func TestDefaultStateLayoutFitsExactly(t *testing.T) {
	used := temporalWidth + appSlots + languageSlots + domainSlots + fileTypeSlots +
		activityWidth + behavioralWidth + historyLen*historySlots + lastTypeSlots
	assert.Equal(t, DefaultConfig().StateDim, used)
}

func TestPreviousTypeAlwaysEncoded(t *testing.T) {
	lastBlock := DefaultConfig().StateDim - lastTypeSlots
	for _, kind := range []string{"file_edit", "tab_switch", "git_commit", "app_switch",
		"window_focus", "terminal_command", "search", "copy", "paste", "zoom"} {
		e := NewExtractor(DefaultConfig())
		e.UpdateFromAction(action.Action{Timestamp: monday, Source: "system", ActionType: kind})
		var sum float32
		for _, v := range e.ExtractStateVector()[lastBlock:] {
			sum += v
		}
		assert.Equal(t, float32(1), sum, kind)
	}
}
