package revision

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

const revisionLength = 16

// ProjectRevision returns a deterministic revision string derived from the
// fields that define a project's declared release: its name, version, and the
// ordered image:tag list of its containers. Two reconciliation runs against
// the same declared state produce the same revision, which keys audit fields
// and archive object names.
func ProjectRevision(name, version string, images []string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("name=%s\nversion=%s\nimages=%s\n", name, version, strings.Join(images, ","))))
	return hex.EncodeToString(sum[:])[:revisionLength]
}
