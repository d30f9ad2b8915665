package ranking

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
)

// Points defines the calibrated point values for the level and badge terms.
// The activity decay buckets and review step tables are fixed product rules
// and are not calibrated.
type Points struct {
	Level1   int `json:"level1"`   // Level 1 term (default: 100)
	Level2   int `json:"level2"`   // Level 2 term (default: 200)
	Level3   int `json:"level3"`   // Level 3 term (default: 300)
	LevelPro int `json:"pro"`      // Pro level term (default: 500)

	BlueTick    int `json:"blue_tick"`   // Verified badge (default: 100)
	ProBadge    int `json:"pro_badge"`   // Active paid subscription badge (default: 200)
	Recommended int `json:"recommended"` // Reserved badge (default: 300)
}

// CalibrationConfig represents the JSON structure of the calibration file.
type CalibrationConfig struct {
	Version string `json:"version"` // Config version for future compatibility
	Points  Points `json:"points"`  // Point configurations
}

// DefaultPoints returns the default point values for the score formula.
//
// Level term (exactly one applies): 100 / 200 / 300 / 500.
// Badge term (all that apply stack): blue tick +100, pro +200, recommended +300.
func DefaultPoints() *Points {
	return &Points{
		Level1:      100,
		Level2:      200,
		Level3:      300,
		LevelPro:    500,
		BlueTick:    100,
		ProBadge:    200,
		Recommended: 300,
	}
}

// LoadCalibration loads score point values from a JSON calibration file.
// If the file doesn't exist or can't be read, returns default points with an
// error. Partial configurations are merged with defaults so a calibration file
// can override a single value.
func LoadCalibration(filePath string) (*Points, error) {
	if filePath == "" {
		return DefaultPoints(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		slog.Warn("failed to read calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultPoints(), fmt.Errorf("failed to read calibration file: %w", err)
	}

	var config CalibrationConfig
	if err := json.Unmarshal(data, &config); err != nil {
		slog.Warn("failed to parse calibration file, using defaults",
			"path", filePath,
			"error", err)
		return DefaultPoints(), fmt.Errorf("failed to parse calibration file: %w", err)
	}

	defaults := DefaultPoints()
	merged := MergeCalibration(defaults, &config.Points)
	logCalibrationOverrides(defaults, merged)

	return merged, nil
}

// MergeCalibration merges override points with base points. Only non-zero
// values from the override are applied, which allows partial overrides in the
// calibration file.
func MergeCalibration(base *Points, override *Points) *Points {
	if base == nil {
		return DefaultPoints()
	}
	if override == nil {
		result := *base
		return &result
	}

	result := *base

	if override.Level1 != 0 {
		result.Level1 = override.Level1
	}
	if override.Level2 != 0 {
		result.Level2 = override.Level2
	}
	if override.Level3 != 0 {
		result.Level3 = override.Level3
	}
	if override.LevelPro != 0 {
		result.LevelPro = override.LevelPro
	}
	if override.BlueTick != 0 {
		result.BlueTick = override.BlueTick
	}
	if override.ProBadge != 0 {
		result.ProBadge = override.ProBadge
	}
	if override.Recommended != 0 {
		result.Recommended = override.Recommended
	}

	return &result
}

// logCalibrationOverrides logs which point values were overridden from defaults.
func logCalibrationOverrides(defaults *Points, loaded *Points) {
	var overrides []string

	check := func(name string, def, got int) {
		if def != got {
			overrides = append(overrides, fmt.Sprintf("%s: %d -> %d", name, def, got))
		}
	}
	check("level1", defaults.Level1, loaded.Level1)
	check("level2", defaults.Level2, loaded.Level2)
	check("level3", defaults.Level3, loaded.Level3)
	check("pro", defaults.LevelPro, loaded.LevelPro)
	check("blue_tick", defaults.BlueTick, loaded.BlueTick)
	check("pro_badge", defaults.ProBadge, loaded.ProBadge)
	check("recommended", defaults.Recommended, loaded.Recommended)

	if len(overrides) > 0 {
		slog.Info("loaded ranking calibration with overrides",
			"overrides", overrides)
	} else {
		slog.Info("loaded ranking calibration (using all defaults)")
	}
}
