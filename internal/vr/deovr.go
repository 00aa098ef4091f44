package vr

import (
	"encoding/json"
	"net/http"

	"github.com/jota2rz/mediaviewer/internal/models"
	"github.com/jota2rz/mediaviewer/internal/store"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

// DeoVRHandlers serves the /deovr root-level routes. Neither must be
// shadowed by the web UI's SPA catch-all route (spec §4.7/§4.8).
type DeoVRHandlers struct {
	Catalog *store.Catalog
	State   *syncstate.State
}

type deovrSceneItem struct {
	Title         string `json:"title"`
	VideoLength   int    `json:"videoLength"`
	ThumbnailURL  string `json:"thumbnailUrl"`
	VideoURL      string `json:"video_url"`
}

type deovrLibrary struct {
	Authorized string `json:"authorized"`
	Scenes     []struct {
		Name string           `json:"name"`
		List []deovrSceneItem `json:"list"`
	} `json:"scenes"`
}

// Library handles GET|POST /deovr.
func (h *DeoVRHandlers) Library(w http.ResponseWriter, r *http.Request) {
	items, err := ListVR(h.Catalog)
	if err != nil {
		http.Error(w, "catalog error", http.StatusInternalServerError)
		return
	}

	base := BaseURL(r)
	list := make([]deovrSceneItem, 0, len(items))
	for _, m := range items {
		list = append(list, deovrSceneItem{
			Title:        m.Title,
			VideoLength:  0,
			ThumbnailURL: ThumbURL(base, m.ID),
			VideoURL:     StreamURL(base, m.ID),
		})
	}

	out := deovrLibrary{Authorized: "0"}
	out.Scenes = []struct {
		Name string           `json:"name"`
		List []deovrSceneItem `json:"list"`
	}{{Name: "Library", List: list}}

	writeJSON(w, out)
}

type deovrEncoding struct {
	Name         string               `json:"name"`
	VideoSources []deovrVideoSource   `json:"videoSources"`
}

type deovrVideoSource struct {
	Resolution int    `json:"resolution"`
	URL        string `json:"url"`
}

type deovrVideo struct {
	ID           uint32          `json:"id"`
	Title        string          `json:"title"`
	VideoLength  int             `json:"videoLength"`
	Is3D         bool            `json:"is3d"`
	ScreenType   string          `json:"screenType"`
	StereoMode   string          `json:"stereoMode"`
	ThumbnailURL string          `json:"thumbnailUrl"`
	Encodings    []deovrEncoding `json:"encodings"`
}

// Video handles GET|POST /deovr/video/:id.
func (h *DeoVRHandlers) Video(w http.ResponseWriter, r *http.Request, id string) {
	m, err := h.Catalog.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	base := BaseURL(r)
	stereo, fov := StereoAndFov(m)

	screenType := "sphere"
	if fov == 180 {
		screenType = "dome"
	}
	stereoMode := "off"
	switch stereo {
	case models.StereoSBS:
		stereoMode = "sbs"
	case models.StereoTB:
		stereoMode = "tb"
	}

	durationSeconds := 0
	if m.DurationMs != nil {
		durationSeconds = int((*m.DurationMs + 500) / 1000)
	}

	out := deovrVideo{
		ID:           StableNumericID(m.ID),
		Title:        m.Title,
		VideoLength:  durationSeconds,
		Is3D:         true,
		ScreenType:   screenType,
		StereoMode:   stereoMode,
		ThumbnailURL: ThumbURL(base, m.ID),
		Encodings: []deovrEncoding{{
			Name: "h264",
			VideoSources: []deovrVideoSource{{
				Resolution: 1080,
				URL:        StreamURL(base, m.ID),
			}},
		}},
	}
	writeJSON(w, out)

	if h.State != nil {
		h.State.UpsertSession(syncstate.DefaultSessionID, syncstate.Update{
			MediaID:      &m.ID,
			TimeMs:       0,
			Paused:       false,
			Fps:          30,
			FromClientID: "vr:deovr",
		})
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
