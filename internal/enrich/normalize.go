package enrich

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// TLDs are probed in this order when guessing a company's domain.
var TLDs = []string{".fr", ".com", ".eu", ".io", ".net"}

// NormalizeCompanyName turns a company name into a domain label candidate:
// lowercase, accents stripped, only [a-z0-9] kept, whitespace removed.
// "Café Durand" becomes "cafedurand".
func NormalizeCompanyName(name string) string {
	decomposed := norm.NFD.String(strings.ToLower(name))

	var b strings.Builder
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// CandidateDomains returns the probe order for a company name.
func CandidateDomains(name string) []string {
	base := NormalizeCompanyName(name)
	if base == "" {
		return nil
	}
	out := make([]string, len(TLDs))
	for i, tld := range TLDs {
		out[i] = base + tld
	}
	return out
}
