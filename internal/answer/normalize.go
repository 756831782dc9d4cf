// Package answer canonicalizes option labels so answer comparisons do not depend on
// case, width or the script used to number the options.
package answer

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Label is a canonical option label. Recognised ordinal markers normalize to an
// upper-case Latin letter; anything else is kept as given.
type Label string

// ordinals lists the option markers per numbering script, in option order.
var ordinals = [][]string{
	{"A", "B", "C", "D", "E", "F", "G", "H"},
	{"क", "ख", "ग", "घ", "ङ", "च", "छ", "ज"},
	{"अ", "ब", "स", "द"},
	{"ক", "খ", "গ", "ঘ"},
}

var markers = buildMarkers()

func buildMarkers() map[string]int {
	m := make(map[string]int)
	for _, set := range ordinals {
		for i, mark := range set {
			m[mark] = i
			m[strings.ToLower(mark)] = i
		}
	}
	return m
}

// Normalize maps equivalent representations of the same option to one Label.
// It never fails: unrecognised input is returned unchanged.
func Normalize(label string) Label {
	mark := strings.TrimSpace(norm.NFKC.String(label))
	mark = unwrap(mark)
	if i, ok := markers[mark]; ok {
		return Label(ordinals[0][i])
	}
	return Label(label)
}

// unwrap strips "(A)", "[A]", "A." and "A)" decorations around a single marker.
func unwrap(s string) string {
	if n := len(s); n >= 2 {
		switch {
		case s[0] == '(' && s[n-1] == ')', s[0] == '[' && s[n-1] == ']':
			s = strings.TrimSpace(s[1 : n-1])
		case s[n-1] == '.' || s[n-1] == ')':
			s = strings.TrimSpace(s[:n-1])
		}
	}
	return s
}

// Equal compares a selected option with a correct-answer reference.
func Equal(a, b string) bool {
	return Normalize(a) == Normalize(b)
}

// Letter returns the canonical label of the option at index, or "" if there is none.
func Letter(index int) Label {
	if index < 0 || index >= len(ordinals[0]) {
		return ""
	}
	return Label(ordinals[0][index])
}

// Index returns the option position a label refers to.
func Index(label string) (int, bool) {
	l := Normalize(label)
	for i, mark := range ordinals[0] {
		if string(l) == mark {
			return i, true
		}
	}
	return -1, false
}

// MaxOptions is the number of option positions that have a label.
func MaxOptions() int {
	return len(ordinals[0])
}
