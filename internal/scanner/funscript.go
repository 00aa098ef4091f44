package scanner

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/jota2rz/mediaviewer/internal/models"
)

// loadFunscript reads and parses the sidecar funscript for a media file,
// if present. A missing sidecar is not an error: ok is simply false.
func loadFunscript(path string) (models.Funscript, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Funscript{}, false, nil
		}
		return models.Funscript{}, false, err
	}

	var fs models.Funscript
	if err := json.Unmarshal(data, &fs); err != nil {
		return models.Funscript{}, false, err
	}

	sort.Slice(fs.Actions, func(i, j int) bool { return fs.Actions[i].At < fs.Actions[j].At })
	return fs, true, nil
}

// funscriptStats derives the action count and average speed (percent per
// second) of a funscript: avgSpeed = Σ|Δpos| / Σ|Δt| × 1000, skipping any
// pair whose Δt is non-positive (spec §4.2).
func funscriptStats(fs models.Funscript) (actionCount int, avgSpeed float64) {
	actionCount = len(fs.Actions)
	if actionCount < 2 {
		return actionCount, 0
	}

	var sumAbsDeltaPos float64
	var sumDeltaT float64
	for i := 1; i < len(fs.Actions); i++ {
		dt := fs.Actions[i].At - fs.Actions[i-1].At
		if dt <= 0 {
			continue
		}
		dp := fs.Actions[i].Pos - fs.Actions[i-1].Pos
		if dp < 0 {
			dp = -dp
		}
		sumAbsDeltaPos += float64(dp)
		sumDeltaT += float64(dt)
	}
	if sumDeltaT <= 0 {
		return actionCount, 0
	}
	return actionCount, sumAbsDeltaPos / sumDeltaT * 1000
}
