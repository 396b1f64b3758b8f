// Package meta holds build information set through linker flags.
package meta

// Version is the release version, set with
// -ldflags "-X github.com/nicholas-fedor/imagekeeper/internal/meta.Version=...".
var Version = "v0.0.0-unknown"
