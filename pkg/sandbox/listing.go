package sandbox

import "strings"

// ListingName returns the part of an "ls -l" line that follows its first
// skip columns. Whitespace inside the name is kept as listed.
func ListingName(line string, skip int) string {
	rest := strings.TrimRight(line, "\r")
	for i := 0; i < skip; i++ {
		rest = strings.TrimLeft(rest, " \t")
		end := strings.IndexAny(rest, " \t")
		if end < 0 {
			return ""
		}
		rest = rest[end:]
	}
	// ls separates the name from the date with a single space.
	if len(rest) > 0 {
		rest = rest[1:]
	}
	return rest
}
