package util

import "regexp"

// Session ids are minted as UUIDs but external callers may probe with
// arbitrary strings; the file store also uses the id as a filename.
var sessionIDRegex = regexp.MustCompile(`^[0-9A-Za-z][0-9A-Za-z._-]{0,127}$`)

func IsValidSessionID(s string) bool {
	if s == "" {
		return false
	}
	return sessionIDRegex.MatchString(s)
}
