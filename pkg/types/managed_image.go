package types

import "time"

// ManagedImage is a locally tracked image with its tag lineage.
//
// PreviousTag is only ever set while CurrentTag is empty, and only when the
// tag moved away from the image during an update.
type ManagedImage struct {
	ImageID        ImageID
	Repository     string
	CurrentTag     string
	Digest         Digest
	PreviousTag    string
	FirstSeen      time.Time
	LastSeen       time.Time
	TransitionedAt *time.Time
}

// Dangling reports whether the image no longer carries a tag.
func (m ManagedImage) Dangling() bool {
	return m.CurrentTag == ""
}

// ManagedImageFrom builds the lineage row for a resolved image reference.
func ManagedImageFrom(ref ImageReference) ManagedImage {
	return ManagedImage{
		ImageID:    ref.ID,
		Repository: ref.Repository,
		CurrentTag: ref.Tag,
		Digest:     ref.Digest,
	}
}
