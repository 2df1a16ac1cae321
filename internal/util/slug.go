package util

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

var slugUnsafe = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lower-cases s and joins its alphanumeric runs with "-".
func Slugify(s string) string {
	return strings.Trim(slugUnsafe.ReplaceAllString(strings.ToLower(s), "-"), "-")
}

// WorkspaceSlug is the immutable slug given to a workspace at creation.
// Names without any alphanumerics slug as "workspace".
func WorkspaceSlug(name string, at time.Time) string {
	base := Slugify(name)
	if base == "" {
		base = "workspace"
	}
	return base + "-" + strconv.FormatInt(at.UnixMilli(), 10)
}
