package fsname

import (
	"fmt"
	"hash/fnv"
	"strings"
)

// Sanitize maps an identifier to a file-name-safe form. Identifiers made
// entirely of safe characters come back unchanged; anything rewritten gets
// a short hash of the original appended, so distinct identifiers such as
// "a/b" and "a_b" never share a file.
func Sanitize(id string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	if cleaned == id {
		return cleaned
	}

	h := fnv.New32a()
	h.Write([]byte(id))
	return fmt.Sprintf("%s-%08x", cleaned, h.Sum32())
}
