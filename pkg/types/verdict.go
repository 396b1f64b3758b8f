package types

import "fmt"

// VerdictKind classifies a detection result.
type VerdictKind int

// Detection results.
const (
	DetectionFailed VerdictKind = iota
	UpToDate
	UpdateAvailable
)

// String returns the verdict kind name.
func (k VerdictKind) String() string {
	switch k {
	case UpToDate:
		return "up_to_date"
	case UpdateAvailable:
		return "update_available"
	case DetectionFailed:
		return "detection_failed"
	default:
		return fmt.Sprintf("verdict(%d)", int(k))
	}
}

// Verdict is the detector's classification of a container's update status.
type Verdict struct {
	Kind         VerdictKind
	Container    ContainerRef
	Image        ImageReference
	OldDigest    Digest
	RemoteDigest Digest
	Reason       error // Set only for DetectionFailed.
}

// String renders the verdict for logs and command output.
func (v Verdict) String() string {
	switch v.Kind {
	case UpToDate:
		return fmt.Sprintf("%s: up to date (%s)", v.Container, v.OldDigest)
	case UpdateAvailable:
		return fmt.Sprintf("%s: update available %s -> %s", v.Container, v.OldDigest, v.RemoteDigest)
	default:
		return fmt.Sprintf("%s: detection failed: %v", v.Container, v.Reason)
	}
}
