// Package repeat collapses error messages whose leading block is repeated
// many times before a truncation marker, as happens with recursive stack
// traces and flooded log lines.
package repeat

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMatchLen is the length, in characters, of the first candidate
	// prefix searched for a repeat.
	DefaultMatchLen = 120

	// Marker is the truncation marker that ends the redundant section.
	Marker = "..."
)

// Cut removes the section of message between the second occurrence of its
// leading block and the last truncation marker.
// The message is returned unchanged when no repeat or no marker is found.
//
// The two offsets are not ordered against each other: when the last marker
// precedes the repeat, the prefix and suffix overlap in the result.
func Cut(message string) string {
	start := findStart(message, DefaultMatchLen)
	if start == -1 {
		return message
	}
	end := findEnd(message)
	if end == -1 {
		return message
	}
	return message[:start] + message[end:]
}

// findStart returns the byte offset of the second occurrence of the first
// matchLen characters of s, halving matchLen until a match is found.
// It returns -1 once matchLen drops below 2 or s is no longer than matchLen.
func findStart(s string, matchLen int) int {
	n := utf8.RuneCountInString(s)
	for ; matchLen >= 2 && n > matchLen; matchLen /= 2 {
		prefix := s[:runeOffset(s, matchLen)]
		// Search from the second character on.
		from := runeOffset(s, 1)
		if i := strings.Index(s[from:], prefix); i != -1 {
			return from + i
		}
	}
	return -1
}

// findEnd returns the byte offset of the last truncation marker in s, or -1.
func findEnd(s string) int {
	return strings.LastIndex(s, Marker)
}

// runeOffset returns the byte offset of the n-th character of s.
func runeOffset(s string, n int) int {
	off := 0
	for i := 0; i < n && off < len(s); i++ {
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off
}
