package vr

import (
	"encoding/json"
	"math"
	"net/http"
	"regexp"
	"strings"

	"github.com/jota2rz/mediaviewer/internal/store"
	syncstate "github.com/jota2rz/mediaviewer/internal/sync"
)

const hereSphereJSONVersion = "1"

// HereSphereHandlers serves the /heresphere root-level routes.
type HereSphereHandlers struct {
	Catalog *store.Catalog
	State   *syncstate.State
}

func (h *HereSphereHandlers) setVersionHeader(w http.ResponseWriter) {
	w.Header().Set("HereSphere-JSON-Version", hereSphereJSONVersion)
}

type hsLibrary struct {
	Access  int `json:"access"`
	Library []struct {
		Name string   `json:"name"`
		List []string `json:"list"`
	} `json:"library"`
}

// Library handles GET|POST /heresphere.
func (h *HereSphereHandlers) Library(w http.ResponseWriter, r *http.Request) {
	h.setVersionHeader(w)

	items, err := ListVR(h.Catalog)
	if err != nil {
		http.Error(w, "catalog error", http.StatusInternalServerError)
		return
	}

	base := BaseURL(r)
	urls := make([]string, 0, len(items))
	for _, m := range items {
		urls = append(urls, base+"/heresphere/video/"+m.ID)
	}

	out := hsLibrary{Access: 1}
	out.Library = []struct {
		Name string   `json:"name"`
		List []string `json:"list"`
	}{{Name: "Library", List: urls}}

	writeJSON(w, out)
}

type hsScript struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

type hsVideo struct {
	Access         int        `json:"access"`
	Title          string     `json:"title"`
	Description    string     `json:"description"`
	ThumbnailImage string     `json:"thumbnailImage"`
	EventServer    string     `json:"eventServer"`
	Duration       int64      `json:"duration"`
	Projection     string     `json:"projection"`
	Stereo         string     `json:"stereo"`
	Fov            int        `json:"fov"`
	Scripts        []hsScript `json:"scripts,omitempty"`
	Media          []any      `json:"media"`
}

// Video handles GET|POST /heresphere/video/:id.
func (h *HereSphereHandlers) Video(w http.ResponseWriter, r *http.Request, id string) {
	h.setVersionHeader(w)

	m, err := h.Catalog.Get(id)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	base := BaseURL(r)
	stereo, fov := StereoAndFov(m)

	var durationMs int64
	if m.DurationMs != nil {
		durationMs = *m.DurationMs
	}

	out := hsVideo{
		Access:         1,
		Title:          m.Title,
		Description:    m.Title,
		ThumbnailImage: ThumbURL(base, m.ID),
		EventServer:    base + "/heresphere/event",
		Duration:       durationMs,
		Projection:     "equirectangular",
		Stereo:         string(stereo),
		Fov:            fov,
		Media:          []any{},
	}
	if m.HasFunscript {
		out.Scripts = []hsScript{{
			Name: m.Filename + ".funscript",
			URL:  base + "/api/media/" + m.ID + "/funscript",
		}}
	}
	writeJSON(w, out)

	if h.State != nil {
		h.State.UpsertSession(syncstate.DefaultSessionID, syncstate.Update{
			MediaID:      &m.ID,
			TimeMs:       0,
			Paused:       false,
			Fps:          30,
			FromClientID: "vr:heresphere",
		})
	}
}

var videoIDPattern = regexp.MustCompile(`/heresphere/video/([^/?#]+)`)

type hsEvent struct {
	ID            string  `json:"id"`
	Time          float64 `json:"time"`
	Event         int     `json:"event"`
	ConnectionKey string  `json:"connectionKey"`
}

// Event handles POST /heresphere/event.
func (h *HereSphereHandlers) Event(w http.ResponseWriter, r *http.Request) {
	h.setVersionHeader(w)

	var ev hsEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	mediaID := extractMediaID(ev.ID)
	if mediaID == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	paused := ev.Event == 0 || ev.Event == 2 || ev.Event == 3
	timeMs := int64(ev.Time)
	frame := int64(math.Floor(ev.Time / 1000 * 30))

	fromClientID := "vr:heresphere"
	if ev.ConnectionKey != "" {
		fromClientID = "vr:heresphere:" + ev.ConnectionKey
	}

	if h.State != nil {
		h.State.UpsertSession(syncstate.DefaultSessionID, syncstate.Update{
			MediaID:      &mediaID,
			TimeMs:       timeMs,
			Paused:       paused,
			Fps:          30,
			Frame:        frame,
			FromClientID: fromClientID,
		})
	}

	w.WriteHeader(http.StatusNoContent)
}

// extractMediaID pulls the media id out of a HereSphere event id, which
// may be a bare id or a full /heresphere/video/:id URL.
func extractMediaID(raw string) string {
	if m := videoIDPattern.FindStringSubmatch(raw); len(m) == 2 {
		return m[1]
	}
	return strings.TrimSpace(raw)
}

type hsAuth struct {
	Access    int    `json:"access"`
	AuthToken string `json:"auth-token"`
}

// Auth handles GET|POST /heresphere/auth.
func (h *HereSphereHandlers) Auth(w http.ResponseWriter, r *http.Request) {
	h.setVersionHeader(w)
	writeJSON(w, hsAuth{Access: 1, AuthToken: "local"})
}

type hsScanEntry struct {
	Link     string   `json:"link"`
	Title    string   `json:"title"`
	Duration int      `json:"duration"`
	Tags     []string `json:"tags"`
}

type hsScan struct {
	ScanData []hsScanEntry `json:"scanData"`
}

// Scan handles GET|POST /heresphere/scan.
func (h *HereSphereHandlers) Scan(w http.ResponseWriter, r *http.Request) {
	h.setVersionHeader(w)

	items, err := ListVR(h.Catalog)
	if err != nil {
		http.Error(w, "catalog error", http.StatusInternalServerError)
		return
	}

	base := BaseURL(r)
	entries := make([]hsScanEntry, 0, len(items))
	for _, m := range items {
		entries = append(entries, hsScanEntry{
			Link:     base + "/heresphere/video/" + m.ID,
			Title:    m.Title,
			Duration: 0,
			Tags:     []string{},
		})
	}
	writeJSON(w, hsScan{ScanData: entries})
}
