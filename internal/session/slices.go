package session

import (
	"strconv"
	"strings"
)

// sliceIndices returns every slice index named in a "slice list" reply, in
// order and without duplicates.
func sliceIndices(reply string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, tok := range strings.FieldsFunc(reply, func(r rune) bool {
		return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ','
	}) {
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}

// SliceLetter is the GUI name of slice index i: A for 0 through Z for 25.
func SliceLetter(i int) string {
	if i < 0 || i > 25 {
		return strconv.Itoa(i)
	}
	return string(rune('A' + i))
}

func sliceLetters(reply string) []string {
	idx := sliceIndices(reply)
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, SliceLetter(i))
	}
	return out
}
