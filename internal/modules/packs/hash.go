package packs

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strconv"
	"strings"
)

// ContentHash computes the pack hash: SHA-256 over a canonical text
// serialization of the price and rate content. Prices sort by security id,
// rates by (base, quote); floats render as shortest round-trip decimal
// strings. Provider sources are manifest metadata and stay out of the hash,
// so two packs with identical market content hash identically regardless of
// which provider supplied each row.
func ContentHash(prices []PriceRow, rates []FXRow) string {
	sortedPrices := make([]PriceRow, len(prices))
	copy(sortedPrices, prices)
	sort.Slice(sortedPrices, func(i, j int) bool {
		return sortedPrices[i].SecurityID < sortedPrices[j].SecurityID
	})

	sortedRates := make([]FXRow, len(rates))
	copy(sortedRates, rates)
	sort.Slice(sortedRates, func(i, j int) bool {
		if sortedRates[i].Base != sortedRates[j].Base {
			return sortedRates[i].Base < sortedRates[j].Base
		}
		return sortedRates[i].Quote < sortedRates[j].Quote
	})

	var b strings.Builder
	for _, p := range sortedPrices {
		b.WriteString("price|")
		b.WriteString(p.SecurityID)
		b.WriteByte('|')
		b.WriteString(formatDecimal(p.Close))
		b.WriteByte('|')
		b.WriteString(p.Currency)
		b.WriteByte('\n')
	}
	for _, r := range sortedRates {
		b.WriteString("fx|")
		b.WriteString(r.Base)
		b.WriteByte('|')
		b.WriteString(r.Quote)
		b.WriteByte('|')
		b.WriteString(formatDecimal(r.Rate))
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// formatDecimal renders a float as its shortest decimal string that parses
// back to the same value.
func formatDecimal(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
