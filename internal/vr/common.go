// Package vr implements the two VR library adapters (C7): DeoVR and
// HereSphere. Both speak a fixed JSON dialect the player apps expect and
// share id hashing, absolute URL construction, and FOV/stereo inference
// for the (rare) catalog row that never got classified during a scan.
package vr

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/jota2rz/mediaviewer/internal/models"
	"github.com/jota2rz/mediaviewer/internal/scanner"
	"github.com/jota2rz/mediaviewer/internal/store"
)

// maxLibraryItems caps both adapters' library listings (spec §4.7).
const maxLibraryItems = 1000

// ListVR returns up to maxLibraryItems VR videos, most recently modified
// first.
func ListVR(cat *store.Catalog) ([]models.MediaItem, error) {
	return cat.ListVr(maxLibraryItems)
}

// StableNumericID returns the DeoVR-flavored numeric id for a catalog id:
// a positive FNV-1a 32-bit hash.
func StableNumericID(id string) uint32 {
	return scanner.StableID(id)
}

// BaseURL builds the scheme://host prefix for absolute URLs, honoring
// reverse-proxy headers the way a single-host server behind a TLS
// terminator typically needs to.
func BaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = strings.Split(proto, ",")[0]
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = strings.Split(fwd, ",")[0]
	}
	return scheme + "://" + strings.TrimSpace(host)
}

// StreamURL is the absolute URL to a media item's byte-range stream.
func StreamURL(base, id string) string {
	return base + "/api/media/" + id + "/stream"
}

// ThumbURL is the absolute URL to a media item's thumbnail.
func ThumbURL(base, id string) string {
	return base + "/api/media/" + id + "/thumb"
}

// PlaceholderThumbURL is served when the real thumbnail generator fails.
func PlaceholderThumbURL(base string) string {
	return base + "/static/placeholder-thumb.svg"
}

var (
	stereoSBS = regexp.MustCompile(`(?i)(?:^|[_\-./ ])(sbs|lr|rl|3dh)(?:$|[_\-./ ])`)
	stereoTB  = regexp.MustCompile(`(?i)(?:^|[_\-./ ])(tb|bt|ou|overunder|3dv)(?:$|[_\-./ ])`)
	fov180    = regexp.MustCompile(`(?i)(?:^|[_\-./ ])(180|vr180)(?:$|[_\-./ ])`)
	fov360    = regexp.MustCompile(`(?i)(?:^|[_\-./ ])(360|vr360)(?:$|[_\-./ ])`)
)

// StereoAndFov resolves the stereo layout and field-of-view for an item,
// preferring the catalog's stored classification and falling back to the
// simpler filename-token inference from spec §4.7 when nothing was
// stored (the scanner's own heuristic cascade in internal/scanner already
// covers the common case; this is the adapter-layer belt-and-suspenders
// fallback).
func StereoAndFov(m models.MediaItem) (stereo models.VRStereo, fov int) {
	if m.VRStereo != nil {
		stereo = *m.VRStereo
	} else {
		stereo = inferStereoFromName(m.Filename)
	}
	if m.VRFov != nil {
		fov = *m.VRFov
	} else {
		fov = inferFovFromName(m.Filename)
	}
	return stereo, fov
}

func inferStereoFromName(name string) models.VRStereo {
	switch {
	case stereoSBS.MatchString(name):
		return models.StereoSBS
	case stereoTB.MatchString(name):
		return models.StereoTB
	default:
		return models.StereoMono
	}
}

func inferFovFromName(name string) int {
	switch {
	case fov180.MatchString(name):
		return 180
	case fov360.MatchString(name):
		return 360
	default:
		return 360
	}
}
