package types

import (
	"fmt"
	"os"
	"strings"
)

// CapturedImage is a photo delivered by the capture collaborator (camera, upload, CLI path).
type CapturedImage struct {
	Path        string
	Size        int64
	Orientation int // EXIF orientation tag (1-8), 0 when not probed
}

// NewCapturedImage stats the file at path. imagenorm.Capture also probes the orientation.
func NewCapturedImage(path string) (*CapturedImage, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory, expected an image file", path)
	}
	return &CapturedImage{Path: path, Size: info.Size()}, nil
}

// UserProfile is one registered person: a name and the canonical profile image stored for it.
type UserProfile struct {
	Name      string `json:"name"`
	ImagePath string `json:"image_path"`
}

// CleanName trims the candidate name. It returns ErrInvalidName when nothing is left or
// when the name would escape the profile directory.
func CleanName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", ErrInvalidName.WithError(fmt.Errorf("name is empty"))
	}
	if strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", ErrInvalidName.WithError(fmt.Errorf("name %q contains path elements", name))
	}
	return name, nil
}

// FaceGuidanceStatus is the signal emitted by the live-preview guidance overlay.
type FaceGuidanceStatus string

const (
	GuidanceWellPositioned FaceGuidanceStatus = "well_positioned"
	GuidanceTooFar         FaceGuidanceStatus = "too_far"
	GuidanceTooClose       FaceGuidanceStatus = "too_close"
	GuidanceNotCentered    FaceGuidanceStatus = "not_centered"
	GuidanceNotFound       FaceGuidanceStatus = "not_found"
	GuidanceMultipleFaces  FaceGuidanceStatus = "multiple_faces"
)

// ParseGuidance maps a textual status onto the known enumeration.
func ParseGuidance(s string) (FaceGuidanceStatus, error) {
	switch g := FaceGuidanceStatus(strings.ToLower(strings.TrimSpace(s))); g {
	case GuidanceWellPositioned, GuidanceTooFar, GuidanceTooClose,
		GuidanceNotCentered, GuidanceNotFound, GuidanceMultipleFaces:
		return g, nil
	}
	return "", fmt.Errorf("unknown guidance status %q", s)
}

// AllowsCapture reports whether the capture action may be invoked for this status.
func (g FaceGuidanceStatus) AllowsCapture() bool {
	return g == GuidanceWellPositioned
}

// Hint is the tooltip text shown by the overlay for this status.
func (g FaceGuidanceStatus) Hint() string {
	switch g {
	case GuidanceWellPositioned:
		return "Your face is well-positioned"
	case GuidanceTooFar:
		return "Move closer to the camera"
	case GuidanceTooClose:
		return "Move away from the camera"
	case GuidanceNotCentered:
		return "Center your face in the frame"
	case GuidanceMultipleFaces:
		return "Only one face should be visible"
	default:
		return "No face found"
	}
}

// ErrorResult captures the error object a worker returns when the request itself is broken
type ErrorResult struct {
	Error string `json:"error"`
}
