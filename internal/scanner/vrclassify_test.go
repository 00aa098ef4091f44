package scanner

import (
	"testing"

	"github.com/jota2rz/mediaviewer/internal/models"
)

func TestClassifyVRSphericalSideData(t *testing.T) {
	r := classifyVR("vacation.mp4", 3840, 1920, probeSideData{
		HasSpherical: true,
		HasBounds:    true,
		BoundLeft:    0,
		BoundRight:   0.5,
	})
	if !r.IsVR {
		t.Fatal("expected IsVR true")
	}
	if r.VRFov == nil || *r.VRFov != 180 {
		t.Fatalf("expected fov 180, got %v", r.VRFov)
	}
}

func TestClassifyVRSphericalFullSphere(t *testing.T) {
	r := classifyVR("vacation.mp4", 3840, 1920, probeSideData{
		HasSpherical: true,
		HasBounds:    true,
		BoundLeft:    0,
		BoundRight:   1.0,
	})
	if !r.IsVR {
		t.Fatal("expected IsVR true")
	}
	if r.VRFov == nil || *r.VRFov != 360 {
		t.Fatalf("expected fov 360, got %v", r.VRFov)
	}
}

func TestClassifyVRDimensionHeuristic360(t *testing.T) {
	r := classifyVR("movie.mp4", 3840, 1920, probeSideData{})
	if !r.IsVR {
		t.Fatal("expected IsVR true")
	}
	if r.VRFov == nil || *r.VRFov != 360 {
		t.Fatalf("expected fov 360, got %v", r.VRFov)
	}
}

func TestClassifyVRDimensionHeuristic180(t *testing.T) {
	r := classifyVR("movie.mp4", 2800, 2800, probeSideData{})
	if !r.IsVR {
		t.Fatal("expected IsVR true")
	}
	if r.VRFov == nil || *r.VRFov != 180 {
		t.Fatalf("expected fov 180, got %v", r.VRFov)
	}
}

func TestClassifyVRPathTokenHeuristic(t *testing.T) {
	r := classifyVR("clips/movie_LR_180.mp4", 1920, 1080, probeSideData{})
	if !r.IsVR {
		t.Fatal("expected IsVR true")
	}
	if r.VRFov == nil || *r.VRFov != 180 {
		t.Fatalf("expected fov 180, got %v", r.VRFov)
	}
	if r.VRStereo == nil || *r.VRStereo != models.StereoSBS {
		t.Fatalf("expected stereo sbs, got %v", r.VRStereo)
	}
}

func TestClassifyVRPathTokenLRFFullSBSComposite(t *testing.T) {
	r := classifyVR("scenes/clip_LRF_Full_SBS.mp4", 1920, 1080, probeSideData{})
	if !r.IsVR {
		t.Fatal("expected IsVR true")
	}
	if r.VRStereo == nil || *r.VRStereo != models.StereoSBS {
		t.Fatalf("expected stereo sbs, got %v", r.VRStereo)
	}
}

func TestClassifyVRNoMatch(t *testing.T) {
	r := classifyVR("vacation.mp4", 1920, 1080, probeSideData{})
	if r.IsVR {
		t.Fatal("expected IsVR false")
	}
}

func TestDimensionHeuristicRejectsNonVRAspect(t *testing.T) {
	if _, ok := dimensionHeuristic(1920, 1080); ok {
		t.Fatal("expected non-VR aspect to be rejected")
	}
}

func TestInferStereoDefaultsToMono(t *testing.T) {
	if got := inferStereo("plain_filename.mp4"); got != models.StereoMono {
		t.Fatalf("expected mono, got %v", got)
	}
}

func TestInferFovDefaultsTo360(t *testing.T) {
	if got := inferFov("plain_vr_filename.mp4"); got != 360 {
		t.Fatalf("expected 360, got %d", got)
	}
}
