package features

import "time"

// #region layout
// Block widths of the state and action vectors. Blocks are written in this
// order; anything past the configured dimension is truncated.
const (
	temporalWidth = 10 // hour, 7 weekday slots, since-last, session

	appSlots      = 10
	languageSlots = 20
	domainSlots   = 30
	fileTypeSlots = 15

	activityWidth   = 6
	behavioralWidth = 3

	historyLen       = 5
	historySlots     = 10
	lastTypeSlots    = 48 // blocks fill the default 192-wide state exactly
	actionTypeSlots  = 30
	actionSourceSlot = 5
)

// Normalization caps used when scaling raw measurements into [0,1].
const (
	maxSinceLast       = 3600.0
	maxSession         = 8 * 3600.0
	maxTypingSpeed     = 120.0
	maxClicksPerMinute = 60.0
	maxSwitchesPerHour = 100.0
	maxActionsPerHour  = 1000.0
	maxActionsPer5Min  = 100.0
	maxTimeInContext   = 3600.0
	maxDuration        = 3600.0
)

// Sliding window spans in seconds.
const (
	hourSpan  = 3600.0
	fiveSpan  = 300.0
	clickSpan = 60.0
)
// #endregion layout

// #region config
// Config sets the vector widths and the location used for hour/weekday features.
type Config struct {
	StateDim  int
	ActionDim int
	Location  *time.Location
}

// DefaultConfig returns 192-wide states, 48-wide actions and UTC.
func DefaultConfig() Config {
	return Config{
		StateDim:  192,
		ActionDim: 48,
		Location:  time.UTC,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.StateDim <= 0 {
		c.StateDim = d.StateDim
	}
	if c.ActionDim <= 0 {
		c.ActionDim = d.ActionDim
	}
	if c.Location == nil {
		c.Location = d.Location
	}
	return c
}
// #endregion config

// #region summary
// Snapshot is a read-only view of the extractor's running context.
type Snapshot struct {
	App             string   `json:"app"`
	Domain          string   `json:"domain"`
	Language        string   `json:"language"`
	FileType        string   `json:"file_type"`
	TypingSpeed     float64  `json:"typing_speed"`
	ClicksPerMinute int      `json:"clicks_per_minute"`
	ContextSwitches int      `json:"context_switches"`
	ActionsLastHour int      `json:"actions_last_hour"`
	History         []string `json:"history"`
	Now             float64  `json:"now"`
}
// #endregion summary
