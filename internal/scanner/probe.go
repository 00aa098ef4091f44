package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	gomp4 "github.com/abema/go-mp4"

	"github.com/jota2rz/mediaviewer/internal/store"
)

const probeTimeout = 20 * time.Second

// ffprobeStream is the subset of ffprobe's JSON stream object this probe
// reads: dimensions plus the spherical/stereo3d side-data VR hints.
type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	SideDataList []struct {
		SideDataType string  `json:"side_data_type"`
		BoundLeft    float64 `json:"bound_left"`
		BoundRight   float64 `json:"bound_right"`
		Type         string  `json:"type"`
	} `json:"side_data_list"`
}

type ffprobeFormat struct {
	DurationSec string `json:"duration"`
}

type ffprobeOutput struct {
	Streams []ffprobeStream `json:"streams"`
	Format  ffprobeFormat   `json:"format"`
}

// probeVideo shells out to ffprobe for width/height/duration and VR
// side-data hints, feeds them through the VR classifier, and falls back
// to a pure-Go MP4 box parse when ffprobe is unavailable or fails
// (spec §7: transient external failures degrade gracefully, never fatal).
func probeVideo(ctx context.Context, ffprobePath, absPath, relPath string) store.ProbeResult {
	if r, ok := probeWithFFprobe(ctx, ffprobePath, absPath, relPath); ok {
		return r
	}
	return probeWithMp4Fallback(absPath, relPath)
}

func probeWithFFprobe(ctx context.Context, ffprobePath, absPath, relPath string) (store.ProbeResult, bool) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, ffprobePath,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		absPath,
	)

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	// Drain stderr into Discard so a chatty ffprobe build never blocks on a
	// full pipe buffer (spec §5: child stderr must be drained).
	cmd.Stderr = io.Discard

	if err := cmd.Run(); err != nil {
		return store.ProbeResult{}, false
	}

	var out ffprobeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return store.ProbeResult{}, false
	}

	var videoStream *ffprobeStream
	for i := range out.Streams {
		if out.Streams[i].CodecType == "video" {
			videoStream = &out.Streams[i]
			break
		}
	}
	if videoStream == nil {
		return store.ProbeResult{}, false
	}

	r := store.ProbeResult{}
	if videoStream.Width > 0 {
		w := videoStream.Width
		r.Width = &w
	}
	if videoStream.Height > 0 {
		h := videoStream.Height
		r.Height = &h
	}
	if ms, ok := parseDurationMs(out.Format.DurationSec); ok {
		r.DurationMs = &ms
	}

	side := extractSideData(*videoStream)
	vr := classifyVR(relPath, videoStream.Width, videoStream.Height, side)
	r.IsVR = vr.IsVR
	r.VRFov = vr.VRFov
	r.VRStereo = vr.VRStereo
	r.VRProjection = vr.VRProjection

	return r, true
}

func extractSideData(s ffprobeStream) probeSideData {
	var side probeSideData
	for _, sd := range s.SideDataList {
		switch sd.SideDataType {
		case "Spherical Mapping":
			side.HasSpherical = true
			if sd.BoundLeft != 0 || sd.BoundRight != 0 {
				side.HasBounds = true
				side.BoundLeft = sd.BoundLeft
				side.BoundRight = sd.BoundRight
			}
		case "Stereo 3D":
			side.HasStereo3D = true
		}
	}
	return side
}

func parseDurationMs(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(s, 64)
	if err != nil || seconds <= 0 {
		return 0, false
	}
	return int64(seconds * 1000), true
}

// probeWithMp4Fallback reads the tkhd/mvhd boxes directly via go-mp4 when
// ffprobe can't be run. It only recovers dimensions and duration — VR
// side-data requires ffprobe, so only classifyVR's dimension and path-token
// heuristics apply here.
func probeWithMp4Fallback(absPath, relPath string) store.ProbeResult {
	f, err := os.Open(absPath)
	if err != nil {
		return classifyVR(relPath, 0, 0, probeSideData{})
	}
	defer f.Close()

	var width, height int
	var durationMs int64

	_, _ = gomp4.ReadBoxStructure(f, func(h *gomp4.ReadHandle) (interface{}, error) {
		switch h.BoxInfo.Type {
		case gomp4.BoxTypeTkhd():
			box, _, err := h.ReadPayload()
			if err == nil {
				if tkhd, ok := box.(*gomp4.Tkhd); ok {
					w := int(tkhd.Width >> 16)
					ht := int(tkhd.Height >> 16)
					if w > width {
						width = w
					}
					if ht > height {
						height = ht
					}
				}
			}
			return nil, nil
		case gomp4.BoxTypeMvhd():
			box, _, err := h.ReadPayload()
			if err == nil {
				if mvhd, ok := box.(*gomp4.Mvhd); ok && mvhd.Timescale > 0 {
					durationMs = int64(float64(mvhd.GetDuration()) / float64(mvhd.Timescale) * 1000)
				}
			}
			return nil, nil
		case gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia():
			return h.Expand()
		}
		return nil, nil
	})

	vr := classifyVR(relPath, width, height, probeSideData{})
	r := vr
	if width > 0 {
		r.Width = &width
	}
	if height > 0 {
		r.Height = &height
	}
	if durationMs > 0 {
		r.DurationMs = &durationMs
	}
	return r
}
