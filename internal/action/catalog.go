package action

import (
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"strings"
)

// #region catalog
// Catalog is the ordered candidate list. Training seeds the action-type
// vocabulary from it and inference scores exactly these types, so both sides
// agree on slot positions.
var Catalog = []string{
	"tab_switch",
	"tab_visit",
	"page_load",
	"scroll",
	"keystroke",
	"mouse_click",
	"file_edit",
	"file_save",
}

// Sources seeds the source vocabulary.
var Sources = []string{"vscode", "chrome", "system", "shell", "git"}

// NoiseTypes are high-frequency event types dropped from training replays.
var NoiseTypes = []string{"dom_change", "mouse_move", "mouse_enter", "mouse_leave"}

var switchTypes = []string{"tab_switch", "app_switch", "window_focus"}

// CatalogIndex returns the position of actionType in Catalog.
func CatalogIndex(actionType string) (int, bool) {
	i := slices.Index(Catalog, actionType)
	return i, i >= 0
}

// CatalogDigest is a short stable digest of Catalog, stored in checkpoints so
// a model trained against another candidate list is refused at load time.
func CatalogDigest() string {
	return DigestOf(Catalog)
}

// DigestOf hashes an ordered list of names.
func DigestOf(names []string) string {
	sum := sha256.Sum256([]byte(strings.Join(names, "\n")))
	return hex.EncodeToString(sum[:8])
}

// IsNoise reports whether actionType is one of NoiseTypes.
func IsNoise(actionType string) bool {
	return slices.Contains(NoiseTypes, actionType)
}

// IsContextSwitch reports whether actionType moves the user to another context.
func IsContextSwitch(actionType string) bool {
	return slices.Contains(switchTypes, actionType)
}
// #endregion catalog
