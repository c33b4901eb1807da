package service

import "strings"

// DefaultIDSegment selects "48" from "/propertytoshare/48".
const DefaultIDSegment = 2

// ResourceID returns the segment-th slash-delimited element of path, counting the
// empty string before the leading slash as element 0. It reports false when the
// path is too short or the element is empty. This is the only place that knows how
// resource ids are laid out in request paths.
func ResourceID(path string, segment int) (string, bool) {
	if segment < 0 {
		return "", false
	}
	parts := strings.Split(path, "/")
	if segment >= len(parts) || parts[segment] == "" {
		return "", false
	}
	return parts[segment], true
}
