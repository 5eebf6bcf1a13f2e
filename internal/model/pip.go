package model

import "strings"

// PipValue returns the conventional pip size for a symbol: 1/100 for JPY
// quoted pairs, 1/10000 otherwise.
func PipValue(symbol string) float64 {
	if strings.HasSuffix(symbol, "JPY") {
		return 0.01
	}
	return 0.0001
}

// Pips converts a price distance into pips for the symbol.
func Pips(symbol string, distance float64) float64 {
	return distance / PipValue(symbol)
}

// SplitSymbol splits "EUR/USD" into base and quote. Both are empty when the
// symbol has no separator.
func SplitSymbol(symbol string) (base, quote string) {
	i := strings.IndexByte(symbol, '/')
	if i < 0 {
		return "", ""
	}
	return symbol[:i], symbol[i+1:]
}

// SharesCurrency reports whether two symbols have a currency in common.
// Used by execution when substituting a fallback symbol.
func SharesCurrency(a, b string) bool {
	ab, aq := SplitSymbol(a)
	bb, bq := SplitSymbol(b)
	if ab == "" || bb == "" {
		return false
	}
	return ab == bb || ab == bq || aq == bb || aq == bq
}
