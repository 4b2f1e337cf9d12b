// Package analyzer holds the heuristics shared by the format analyzers.
package analyzer

import "math"

// Base64Ratio is the share of bytes of s in the base64 alphabet.
func Base64Ratio(s string) float64 {
	if len(s) == 0 {
		return 0
	}
	n := 0
	for _, c := range []byte(s) {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '+', c == '/', c == '=':
			n++
		}
	}
	return float64(n) / float64(len(s))
}

// ByteEntropy is the Shannon entropy of b in bits per byte.
func ByteEntropy(b []byte) (h float64) {
	if len(b) == 0 {
		return
	}
	var counts [256]int
	for _, c := range b {
		counts[c]++
	}
	for _, n := range counts {
		if n == 0 {
			continue
		}
		p := float64(n) / float64(len(b))
		h -= p * math.Log2(p)
	}
	return
}

// LooksEncoded reports whether a text field longer than minLength is mostly
// base64 alphabet, or carries more than maxEntropy bits per byte.
func LooksEncoded(s string, minLength int, ratio, maxEntropy float64) bool {
	if len(s) <= minLength {
		return false
	}
	if Base64Ratio(s) > ratio {
		return true
	}
	return maxEntropy > 0 && ByteEntropy([]byte(s)) > maxEntropy
}
