// Package models holds the shared data transfer types used across the
// catalog, sync store, streaming, and VR adapter packages.
package models

// MediaType classifies a catalog entry.
type MediaType string

const (
	MediaVideo MediaType = "video"
	MediaImage MediaType = "image"
	MediaOther MediaType = "other"
)

// VRStereo is the eye layout of a VR video.
type VRStereo string

const (
	StereoSBS  VRStereo = "sbs"
	StereoTB   VRStereo = "tb"
	StereoMono VRStereo = "mono"
)

// MediaItem is the authoritative record of a discovered media file.
type MediaItem struct {
	ID                   string    `json:"id"`
	RelPath              string    `json:"relPath"`
	Filename             string    `json:"filename"`
	Title                string    `json:"title"`
	Ext                  string    `json:"ext"`
	MediaType            MediaType `json:"mediaType"`
	SizeBytes            int64     `json:"sizeBytes"`
	ModifiedMs           int64     `json:"modifiedMs"`
	DurationMs           *int64    `json:"durationMs,omitempty"`
	Width                *int      `json:"width,omitempty"`
	Height               *int      `json:"height,omitempty"`
	HasFunscript         bool      `json:"hasFunscript"`
	FunscriptActionCount *int      `json:"funscriptActionCount,omitempty"`
	FunscriptAvgSpeed    *float64  `json:"funscriptAvgSpeed,omitempty"`
	IsVR                 bool      `json:"isVr"`
	VRFov                *int      `json:"vrFov,omitempty"`
	VRStereo             *VRStereo `json:"vrStereo,omitempty"`
	VRProjection         *string   `json:"vrProjection,omitempty"`
}

// SessionState is the authoritative playback cursor for one session.
type SessionState struct {
	SessionID string  `json:"sessionId"`
	MediaID   *string `json:"mediaId"`
	TimeMs    int64   `json:"timeMs"`
	Paused    bool    `json:"paused"`
	Fps       float64 `json:"fps"`
	Frame     int64   `json:"frame"`

	FromClientID string `json:"fromClientId"`
	UpdatedAt    int64  `json:"updatedAt"` // server wall time, ms

	// Ephemeral scheduling fields. Never persisted beyond the session map,
	// cleared whenever Paused or the sender omits them.
	PlayAt            *string `json:"playAt,omitempty"`
	PlayAtLocalMs     *int64  `json:"playAtLocalMs,omitempty"`
	CapturedAtLocalMs *int64  `json:"capturedAtLocalMs,omitempty"`
}

// SessionUpdate is an inbound request to change a SessionState. Pointer
// fields distinguish "omitted" from "explicit zero value".
type SessionUpdate struct {
	SessionID string
	MediaID   *string
	TimeMs    int64
	Paused    bool
	Fps       float64
	Frame     int64

	FromClientID string

	PlayAt            *string
	PlayAtLocalMs     *int64
	CapturedAtLocalMs *int64
}

// ClientPresence tracks a connected client's metadata.
type ClientPresence struct {
	ClientID  string  `json:"clientId"`
	UserAgent string  `json:"userAgent,omitempty"`
	IPAddress string  `json:"ipAddress,omitempty"`
	UIView    *string `json:"uiView,omitempty"`
	UIMediaID *string `json:"uiMediaId,omitempty"`
}

// PerClientPlayback is a per-viewer resume cursor, keyed by (clientId, mediaId).
type PerClientPlayback struct {
	TimeMs    int64   `json:"timeMs"`
	Fps       float64 `json:"fps"`
	Frame     int64   `json:"frame"`
	UpdatedAt int64   `json:"updatedAt"`
}

// FunscriptAction is a single haptic command.
type FunscriptAction struct {
	At  int64 `json:"at"`
	Pos int   `json:"pos"`
}

// Funscript is a sorted-by-At array of haptic actions.
type Funscript struct {
	Version  string            `json:"version,omitempty"`
	Inverted bool              `json:"inverted,omitempty"`
	Range    int               `json:"range,omitempty"`
	Actions  []FunscriptAction `json:"actions"`
}
