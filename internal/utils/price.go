package utils

import (
	"fmt"
	"strconv"
	"strings"
)

// ParsePriceValue derives a numeric value from a display price by stripping every
// character other than an ASCII digit ("3.200.000 kr" -> 3200000). Returns 0 when no digits are present.
func ParsePriceValue(display string) float64 {
	var sb strings.Builder
	for _, r := range display {
		if r >= '0' && r <= '9' {
			sb.WriteRune(r)
		}
	}
	if sb.Len() == 0 {
		return 0
	}
	v, err := strconv.ParseFloat(sb.String(), 64)
	if err != nil {
		return 0
	}
	return v
}

// FormatMillions renders an amount in millions with one decimal, e.g. 3200000 -> "3.2 mio. kr".
func FormatMillions(amount float64) string {
	return fmt.Sprintf("%.1f mio. kr", amount/1_000_000)
}
