package history

import "strings"

// KeySeparator joins group and service into a document key. Group and
// service names must not contain it; this is not validated.
const KeySeparator = "#"

// Key returns the document key of a (group, service) pair.
func Key(group, service string) string {
	return group + KeySeparator + service
}

// SplitKey reverses Key, splitting at the first separator.
func SplitKey(key string) (group, service string, ok bool) {
	group, service, ok = strings.Cut(key, KeySeparator)
	return group, service, ok
}
