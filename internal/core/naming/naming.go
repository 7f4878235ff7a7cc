// Package naming builds room display names of the form "IV・Base".
package naming

import (
	"sort"
	"strings"
	"unicode/utf8"

	"tempvoice/pkg/validation"
)

const Separator = "・"

var numerals = []struct {
	value  int
	symbol string
}{
	{1000, "M"}, {900, "CM"}, {500, "D"}, {400, "CD"},
	{100, "C"}, {90, "XC"}, {50, "L"}, {40, "XL"},
	{10, "X"}, {9, "IX"}, {5, "V"}, {4, "IV"}, {1, "I"},
}

// Roman renders n (>= 1) as a roman numeral. Non-positive values render empty.
func Roman(n int) string {
	var b strings.Builder
	for _, num := range numerals {
		for n >= num.value {
			b.WriteString(num.symbol)
			n -= num.value
		}
	}
	return b.String()
}

// FullName prefixes base with the numeral for position, truncating base so the
// result fits the platform's name limit.
func FullName(position int, base string) string {
	base = strings.TrimSpace(base)
	return prefix(position) + truncate(base, MaxBaseLength(position))
}

// MaxBaseLength is the longest base name, in characters, that FullName keeps
// intact at position.
func MaxBaseLength(position int) int {
	return validation.MaxRoomNameLength - utf8.RuneCountInString(prefix(position))
}

func prefix(position int) string {
	if position <= 0 {
		return ""
	}
	return Roman(position) + Separator
}

// NextPosition returns the lowest positive position not in used.
func NextPosition(used []int) int {
	sorted := append([]int(nil), used...)
	sort.Ints(sorted)

	next := 1
	for _, p := range sorted {
		if p == next {
			next++
		} else if p > next {
			break
		}
	}
	return next
}

// FromTemplate replaces {owner} in template with the owner's display name.
func FromTemplate(template, ownerName string) string {
	return strings.ReplaceAll(template, "{owner}", ownerName)
}

func truncate(s string, max int) string {
	if max <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return strings.TrimSpace(string([]rune(s)[:max]))
}
