package service

import (
	"strings"
	"unicode"
)

const maxTitleLen = 60

// categoryKeywords maps a display category to words that suggest it.
// Order matters: the first category with a hit wins.
var categoryKeywords = []struct {
	category string
	words    []string
}{
	{"crypto", []string{"bitcoin", "btc", "eth", "ethereum", "crypto", "token", "solana", "defi", "nft"}},
	{"sports", []string{"match", "game", "league", "cup", "championship", "win the", "score", "tournament", "olympic"}},
	{"politics", []string{"election", "president", "vote", "senate", "parliament", "minister", "governor"}},
	{"economy", []string{"inflation", "gdp", "interest rate", "fed", "recession", "stock", "market cap", "unemployment"}},
	{"technology", []string{"ai", "launch", "release", "apple", "google", "openai", "spacex", "iphone"}},
	{"weather", []string{"rain", "snow", "temperature", "hurricane", "storm", "weather"}},
}

// Title derives a short display title from a scenario description: the first
// sentence or line, cut at a word boundary.
func Title(description string) string {
	s := strings.TrimSpace(description)
	if i := strings.IndexAny(s, "\n?"); i >= 0 {
		if s[i] == '?' {
			i++
		}
		s = s[:i]
	}
	s = strings.TrimSpace(s)
	if len(s) <= maxTitleLen {
		return s
	}
	cut := strings.LastIndexFunc(s[:maxTitleLen-3], unicode.IsSpace)
	if cut <= 0 {
		cut = maxTitleLen - 3
	}
	return strings.TrimSpace(s[:cut]) + "..."
}

// Category guesses a coarse category for display. It is never used for settlement.
func Category(description string) string {
	words := tokenize(description)
	text := " " + strings.Join(words, " ") + " "
	for _, c := range categoryKeywords {
		for _, w := range c.words {
			if strings.Contains(text, " "+w+" ") {
				return c.category
			}
		}
	}
	return "general"
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
