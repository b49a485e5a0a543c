package extract

import (
	"context"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/badoux/checkmail"
	"github.com/nyaruka/phonenumbers"
)

var (
	phoneRe   = regexp.MustCompile(`(?:(?:\+|00)33[\s.\-]?(?:\(0\)[\s.\-]?)?|0)[1-9](?:[\s.\-]?\d{2}){4}`)
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	websiteRe = regexp.MustCompile(`(?:https?://|www\.)[^\s)\]"'<>]+`)
	blockRe   = regexp.MustCompile(`\n[ \t]*\n`)

	nameRes = []*regexp.Regexp{
		// Bold spans in markdown.
		regexp.MustCompile(`\*\*([^*\n]{2,80})\*\*`),
		regexp.MustCompile(`__([^_\n]{2,80})__`),
		// Legal form followed by a capitalised name.
		regexp.MustCompile(`\b(?:SARL|SASU|SAS|SA|EURL|SCI|SNC)\s+[\p{Lu}0-9][\p{L}0-9&'’.\-]*(?:[ \t]+[\p{Lu}0-9&][\p{L}0-9&'’.\-]*){0,4}`),
		// Capitalised words ending with a sector keyword.
		regexp.MustCompile(`(?:[\p{Lu}][\p{L}'’\-]+[ \t]+){1,4}(?:Immobilier|Patrimoine|Conseil|Invest|Promotion|Gestion)\b`),
		// Franchise brands, optionally followed by an agency name.
		regexp.MustCompile(`(?:Century 21|Orpi|ORPI|Laforêt|Foncia|Guy Hoquet|Stéphane Plaza|ERA|Nexity|Square Habitat)\b(?:[ \t]+[\p{Lu}][\p{L}'’\-]+){0,2}`),
	}

	// blacklist holds page chrome that the name patterns pick up.
	blacklist = map[string]bool{
		"accueil": true, "contact": true, "contactez-nous": true, "connexion": true,
		"se connecter": true, "s'inscrire": true, "inscription": true, "menu": true,
		"recherche": true, "rechercher": true, "résultats": true, "filtrer": true,
		"trier": true, "voir plus": true, "plus d'infos": true, "afficher le numéro": true,
		"itinéraire": true, "site web": true, "site internet": true, "avis": true,
		"horaires": true, "ouvert": true, "fermé": true, "newsletter": true,
		"mentions légales": true, "cookies": true, "politique de confidentialité": true,
		"conditions générales": true, "publicité": true, "pages jaunes": true,
		"pagesjaunes": true, "linkedin": true, "google": true, "annuaire": true,
		"gestion": true, "conseil": true, "immobilier": true, "promotion": true,
	}
)

// PatternStrategy extracts candidates with regular expressions. It never
// fails; an empty result is a valid answer.
type PatternStrategy struct{}

// Name implements resilience.Strategy.
func (PatternStrategy) Name() string { return "pattern" }

// Try implements resilience.Strategy.
func (PatternStrategy) Try(_ context.Context, in Input) ([]Candidate, error) {
	return Patterns(in.Text, in.Context.max()), nil
}

type span struct {
	start, end int
	name       string
}

// Patterns finds company names in text and pairs each with the nearest
// following email, phone and website in the same block. Names are
// deduplicated case-insensitively and the result is capped at max.
func Patterns(text string, max int) []Candidate {
	if max <= 0 {
		max = DefaultMax
	}
	seen := make(map[string]bool)
	var out []Candidate

	for _, block := range blockRe.Split(text, -1) {
		names := findNames(block)
		for i, n := range names {
			key := strings.ToLower(n.name)
			if seen[key] {
				continue
			}
			seen[key] = true

			end := len(block)
			if i+1 < len(names) {
				end = names[i+1].start
			}
			window := block[n.end:end]

			c := Candidate{
				CompanyName: n.name,
				Email:       firstEmail(window),
				Phone:       firstPhone(window),
				Website:     firstWebsite(window),
			}
			c.Domain = DomainOf("", c.Website, c.Email)
			out = append(out, c)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// findNames returns non-overlapping name matches in block, ordered by
// position. When matches overlap the earliest, then longest, wins.
func findNames(block string) []span {
	var all []span
	for _, re := range nameRes {
		for _, m := range re.FindAllStringSubmatchIndex(block, -1) {
			s, e := m[0], m[1]
			raw := block[s:e]
			if len(m) >= 4 && m[2] >= 0 {
				raw = block[m[2]:m[3]]
			}
			name := cleanName(raw)
			if !plausibleName(name) {
				continue
			}
			all = append(all, span{start: s, end: e, name: name})
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].start != all[j].start {
			return all[i].start < all[j].start
		}
		return all[i].end > all[j].end
	})

	var kept []span
	for _, sp := range all {
		if n := len(kept); n > 0 && sp.start < kept[n-1].end {
			continue
		}
		kept = append(kept, sp)
	}
	return kept
}

func cleanName(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, " -–|:,.;")
}

func plausibleName(s string) bool {
	if len(s) < 2 || len(s) > 80 {
		return false
	}
	lower := strings.ToLower(s)
	if blacklist[lower] {
		return false
	}
	if strings.Contains(lower, "@") || strings.Contains(lower, "http") || strings.Contains(lower, "www.") {
		return false
	}
	letters := 0
	for _, r := range s {
		if unicode.IsLetter(r) {
			letters++
		}
	}
	return letters >= 2
}

func firstEmail(s string) string {
	for _, m := range emailRe.FindAllString(s, -1) {
		m = strings.ToLower(strings.TrimRight(m, "."))
		if checkmail.ValidateFormat(m) == nil {
			return m
		}
	}
	return ""
}

func firstPhone(s string) string {
	m := phoneRe.FindString(s)
	if m == "" {
		return ""
	}
	return NormalizePhone(m)
}

func firstWebsite(s string) string {
	m := websiteRe.FindString(s)
	return strings.TrimRight(m, ".,;")
}

// NormalizePhone formats a French number in national notation
// ("01 42 56 78 90"). Numbers that do not parse are returned trimmed.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	num, err := phonenumbers.Parse(strings.ReplaceAll(raw, "(0)", ""), "FR")
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.NATIONAL)
}
