package scanner

import (
	"regexp"
	"strings"

	"github.com/jota2rz/mediaviewer/internal/models"
	"github.com/jota2rz/mediaviewer/internal/store"
)

// probeSideData carries the spherical/stereo3d hints ffprobe exposes in a
// video stream's side_data_list, when present.
type probeSideData struct {
	HasSpherical bool
	HasStereo3D  bool
	BoundLeft    float64
	BoundRight   float64
	HasBounds    bool
}

var vrPathTokens = regexp.MustCompile(`(?i)(^|[_\-./ ])(vr180|vr360|180|360|vr)([_\-./ ]|$)`)
var stereoTokens = regexp.MustCompile(`(?i)(^|[_\-./ ])(lr|rl|sbs|3dh|tb|bt|ou|overunder|3dv)([_\-./ ]|$)`)
var lrfSBSToken = regexp.MustCompile(`(?i)_lrf_full_sbs`)

// classifyVR implements the VR classification cascade: probe side-data
// wins outright; the dimension heuristic and the path/filename token
// heuristic only apply when the probe didn't already flag VR.
func classifyVR(path string, width, height int, side probeSideData) store.ProbeResult {
	if side.HasSpherical || side.HasStereo3D {
		r := store.ProbeResult{IsVR: true}
		if side.HasBounds {
			span := side.BoundRight - side.BoundLeft
			fov := 360
			if span <= 0.75 {
				fov = 180
			}
			r.VRFov = &fov
		}
		return r
	}

	if fov, ok := dimensionHeuristic(width, height); ok {
		r := store.ProbeResult{IsVR: true, VRFov: &fov}
		return r
	}

	if fov, stereo, ok := pathTokenHeuristic(path); ok {
		r := store.ProbeResult{IsVR: true, VRFov: &fov}
		r.VRStereo = &stereo
		return r
	}

	return store.ProbeResult{IsVR: false}
}

// dimensionHeuristic flags frames whose aspect ratio and size are
// consistent with an equirectangular VR capture: ~2:1 at ≥3000x1500 is
// full 360°, ~1:1 at ≥2500x2500 is a 180° dome.
func dimensionHeuristic(width, height int) (fov int, ok bool) {
	if width <= 0 || height <= 0 {
		return 0, false
	}
	ratio := float64(width) / float64(height)

	if approxRatio(ratio, 2.0) && width >= 3000 && height >= 1500 {
		return 360, true
	}
	if approxRatio(ratio, 1.0) && width >= 2500 && height >= 2500 {
		return 180, true
	}
	return 0, false
}

func approxRatio(ratio, target float64) bool {
	const tolerance = 0.08
	diff := ratio - target
	if diff < 0 {
		diff = -diff
	}
	return diff <= tolerance
}

// pathTokenHeuristic scans the relative path (directories + filename) for
// word-boundary VR and stereo tokens.
func pathTokenHeuristic(path string) (fov int, stereo models.VRStereo, ok bool) {
	lower := strings.ToLower(path)

	hasVRToken := vrPathTokens.MatchString(lower) || lrfSBSToken.MatchString(lower)
	if !hasVRToken {
		return 0, "", false
	}

	fov = inferFov(lower)
	stereo = inferStereo(lower)
	return fov, stereo, true
}

// inferFov maps filename tokens to a field of view, defaulting to 360
// when no explicit 180/360 marker is present (spec §4.7).
func inferFov(lower string) int {
	switch {
	case strings.Contains(lower, "vr180") || hasToken(lower, "180"):
		return 180
	case strings.Contains(lower, "vr360") || hasToken(lower, "360"):
		return 360
	default:
		return 360
	}
}

// inferStereo maps filename tokens to a stereo layout, defaulting to mono.
func inferStereo(lower string) models.VRStereo {
	if lrfSBSToken.MatchString(lower) {
		return models.StereoSBS
	}
	switch {
	case hasAnyToken(lower, "sbs", "lr", "rl", "3dh"):
		return models.StereoSBS
	case hasAnyToken(lower, "tb", "bt", "ou", "overunder", "3dv"):
		return models.StereoTB
	default:
		return models.StereoMono
	}
}

func hasToken(lower, token string) bool {
	return stereoOrVRBoundary(lower, token)
}

func hasAnyToken(lower string, tokens ...string) bool {
	for _, tok := range tokens {
		if stereoOrVRBoundary(lower, tok) {
			return true
		}
	}
	return false
}

// stereoOrVRBoundary checks for tok surrounded by path/word separators
// (or string edges), avoiding accidental matches inside longer words.
func stereoOrVRBoundary(lower, tok string) bool {
	re := regexp.MustCompile(`(^|[_\-./ ])` + regexp.QuoteMeta(tok) + `($|[_\-./ ])`)
	return re.MatchString(lower)
}
