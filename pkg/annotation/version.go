package annotation

import (
	"strings"

	"github.com/blang/semver"
)

// Version is written into every saved label file
const Version = "1.3.0"

func parseVersion(v string) (semver.Version, error) {
	return semver.Parse(strings.TrimPrefix(strings.TrimSpace(v), "v"))
}

// newerThan reports whether docVersion parses and is newer than
// toolVersion. Unparseable versions are never newer.
func newerThan(docVersion, toolVersion string) bool {
	doc, err := parseVersion(docVersion)
	if err != nil {
		return false
	}
	tool, err := parseVersion(toolVersion)
	if err != nil {
		return false
	}
	return doc.GT(tool)
}
