// Package namedetect spots Indonesian self-introductions ("nama aku Budi",
// "panggil saya Rina", ...) in chat messages.
package namedetect

import (
	"regexp"
	"strings"

	"github.com/samber/lo"
)

// Tried in order. Alternatives are leftmost-first, so the bare "nama" wins
// over "nama aku" and "nama aku budi" captures "aku budi".
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(?:kenalin|kenalan|perkenalkan)\s+(?:nama\s*)?(?:aku|saya|gw|gue)\s+(?:adalah\s+)?([a-zA-Z]+(?:\s+[a-zA-Z]+)?)`),
	regexp.MustCompile(`(?i)(?:nama|namaku|nama\s+aku|nama\s+saya|nama\s+gw|nama\s+gue)\s+(?:adalah\s+)?([a-zA-Z]+(?:\s+[a-zA-Z]+)?)`),
	regexp.MustCompile(`(?i)(?:panggil|sebut)\s+(?:aku|saya|gw|gue)\s+([a-zA-Z]+(?:\s+[a-zA-Z]+)?)`),
}

// Words that follow an introduction phrase often enough to be mistaken for a name.
var stopWords = lo.Keyify([]string{
	"tadi", "sudah", "udah", "lagi", "mau", "akan", "bisa", "boleh",
	"suka", "cinta", "benci", "makan", "minum", "tidur", "pergi",
	"pulang", "kerja", "main", "belajar", "disini", "disitu", "kemarin",
	"besok", "nanti", "sekarang", "hari", "ini", "itu", "yang", "dan",
	"atau", "tapi", "karena", "kalau", "jika", "bukan", "jangan", "tidak",
	"nggak", "gak", "belum", "masih", "sedang", "baru", "lama", "cepat",
})

// Detect returns the name the sender introduced themselves with, title-cased.
// It reports false when no pattern matches or every match is a stop word.
func Detect(message string) (string, bool) {
	lower := strings.ToLower(strings.TrimSpace(message))

	for _, p := range patterns {
		m := p.FindStringSubmatch(lower)
		if m == nil || m[1] == "" {
			continue
		}
		if _, stop := stopWords[m[1]]; stop {
			continue
		}
		return titleCase(m[1]), true
	}
	return "", false
}

func titleCase(s string) string {
	words := lo.Map(strings.Split(s, " "), func(w string, _ int) string {
		if w == "" {
			return w
		}
		return strings.ToUpper(w[:1]) + w[1:]
	})
	return strings.Join(words, " ")
}
