package util

import "strings"

// NormalizeSymbol upper-cases and trims a symbol, dropping broker suffixes
// such as "XAUUSD.m".
func NormalizeSymbol(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	if i := strings.IndexByte(s, '.'); i > 0 {
		s = s[:i]
	}
	return s
}
