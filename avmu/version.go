package avmu

import "fmt"

// Library version.
const (
	VersionMajor = 2
	VersionMinor = 3
	VersionPatch = 0
)

// VersionString returns the library version, e.g. "2.3.0".
func VersionString() string {
	return fmt.Sprintf("%d.%d.%d", VersionMajor, VersionMinor, VersionPatch)
}
