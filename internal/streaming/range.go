// Package streaming serves media bytes over HTTP: plain byte-range
// delivery (C5) and an on-the-fly h264 transcode fallback. The VR-UA
// hook dispatches DeoVR requests into internal/deovr before and after
// the body is written, so the heartbeat inferrer can observe timing
// without streaming itself knowing anything about playback state.
package streaming

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/jota2rz/mediaviewer/internal/metrics"
)

var contentTypeByExt = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".webm": "video/webm",
	".avi":  "video/x-msvideo",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".bmp":  "image/bmp",
}

// ContentType returns the Content-Type for a file extension, falling back
// to sniffing and finally to application/octet-stream.
func ContentType(ext string, sniff func() string) string {
	if ct, ok := contentTypeByExt[strings.ToLower(ext)]; ok {
		return ct
	}
	if sniff != nil {
		if ct := sniff(); ct != "" {
			return ct
		}
	}
	return "application/octet-stream"
}

// byteRange is an inclusive [start, end] span clamped to a file's size.
type byteRange struct {
	start, end int64
}

var errNoRange = errors.New("streaming: no range header")
var errBadRange = errors.New("streaming: malformed range header")

// parseRange accepts only a single "bytes=start-end" range, the end being
// optional, or a single suffix range "bytes=-N" (the last N bytes). It
// returns errNoRange if the header is absent, errBadRange for anything it
// can't parse as one simple range.
func parseRange(header string, size int64) (byteRange, error) {
	if header == "" {
		return byteRange{}, errNoRange
	}
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return byteRange{}, errBadRange
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return byteRange{}, errBadRange
	}
	parts := strings.SplitN(spec, "-", 2)
	if len(parts) != 2 {
		return byteRange{}, errBadRange
	}

	startStr, endStr := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])

	var start, end int64
	var err error
	switch {
	case startStr == "" && endStr != "":
		// suffix range: last N bytes
		n, perr := strconv.ParseInt(endStr, 10, 64)
		if perr != nil {
			return byteRange{}, errBadRange
		}
		start = size - n
		if start < 0 {
			start = 0
		}
		end = size - 1
	case startStr != "":
		start, err = strconv.ParseInt(startStr, 10, 64)
		if err != nil {
			return byteRange{}, errBadRange
		}
		if endStr == "" {
			end = size - 1
		} else {
			end, err = strconv.ParseInt(endStr, 10, 64)
			if err != nil {
				return byteRange{}, errBadRange
			}
		}
	default:
		return byteRange{}, errBadRange
	}

	if start < 0 {
		start = 0
	}
	if end > size-1 {
		end = size - 1
	}
	if start > end {
		return byteRange{}, errBadRange
	}
	return byteRange{start: start, end: end}, nil
}

// VRHook lets a caller (the HTTP handler) observe streaming lifecycle for
// VR-UA requests without this package depending on the deovr package.
type VRHook struct {
	// OnStart is called once before bytes are written; the returned func is
	// invoked on response close/finish.
	OnStart func() func()
	// OnData is called as bytes are copied to the response.
	OnData func()
}

// ServeFile streams absPath honoring a single-range request. size is
// passed in by the caller (already stat'd once, per spec).
// hook, if non-nil, is a VR-UA dispatch installed by the handler.
func ServeFile(w http.ResponseWriter, r *http.Request, absPath string, size int64, contentType string, hook *VRHook) error {
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "inline")
	w.Header().Set("Accept-Ranges", "bytes")
	w.Header().Set("Cache-Control", "no-store")

	f, err := os.Open(absPath)
	if err != nil {
		return err
	}
	defer f.Close()

	var finish func()
	if hook != nil && hook.OnStart != nil {
		finish = hook.OnStart()
		if finish != nil {
			defer finish()
		}
	}

	rng, err := parseRange(r.Header.Get("Range"), size)
	switch {
	case errors.Is(err, errNoRange):
		w.Header().Set("Content-Length", strconv.FormatInt(size, 10))
		w.WriteHeader(http.StatusOK)
		metrics.StreamRequestsTotal.WithLabelValues("full").Inc()
		if r.Method == http.MethodHead {
			return nil
		}
		return copyWithHook(w, f, hook)

	case errors.Is(err, errBadRange):
		w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", size))
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
		metrics.StreamRequestsTotal.WithLabelValues("bad_range").Inc()
		return nil

	case err != nil:
		return err
	}

	length := rng.end - rng.start + 1
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", rng.start, rng.end, size))
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))
	w.WriteHeader(http.StatusPartialContent)
	metrics.StreamRequestsTotal.WithLabelValues("range").Inc()
	if r.Method == http.MethodHead {
		return nil
	}

	if _, err := f.Seek(rng.start, io.SeekStart); err != nil {
		return err
	}
	return copyWithHook(w, io.LimitReader(f, length), hook)
}

func copyWithHook(w io.Writer, r io.Reader, hook *VRHook) error {
	if hook == nil || hook.OnData == nil {
		n, err := io.Copy(w, r)
		metrics.StreamBytesServed.WithLabelValues("file").Add(float64(n))
		return err
	}
	buf := make([]byte, 64*1024)
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			metrics.StreamBytesServed.WithLabelValues("file").Add(float64(n))
			hook.OnData()
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

// IsDeoVRUserAgent applies the VR-UA hook rule from spec §4.5: a DeoVR
// request either carries the substring "deovr" in its User-Agent or an
// explicit mvFrom=deovr query parameter, and is not from the desktop
// shell (mvFrom=desktop always opts out).
func IsDeoVRUserAgent(r *http.Request) bool {
	if strings.EqualFold(r.URL.Query().Get("mvFrom"), "desktop") {
		return false
	}
	if strings.EqualFold(r.URL.Query().Get("mvFrom"), "deovr") {
		return true
	}
	return strings.Contains(strings.ToLower(r.UserAgent()), "deovr")
}
