// Package header turns raw provider sender headers into a display name and
// an address.
package header

import "strings"

// ParseFrom splits a `"Display Name" <address>` or bare-address sender string.
// It never fails: malformed input degrades to whatever substrings result.
func ParseFrom(raw string) (name, address string) {
	if before, after, ok := strings.Cut(raw, "<"); ok {
		name = strings.ReplaceAll(strings.TrimSpace(before), `"`, "")
		// only the segment up to a second "<" is the address
		segment, _, _ := strings.Cut(after, "<")
		address = strings.TrimSpace(strings.Replace(segment, ">", "", 1))
		return name, address
	}
	address = raw
	name, _, _ = strings.Cut(raw, "@")
	return name, address
}
