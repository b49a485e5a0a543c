package scrape

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/sells-group/prospect-cli/internal/model"
)

// Directory endpoints.
const (
	pagesJaunesBaseURL = "https://www.pagesjaunes.fr"
	cciBaseURL         = "https://annuaire.entreprises.cci.fr"
	googleSearchURL    = "https://www.google.com/search?q="
)

// DefaultCity is used when a region is unknown.
const DefaultCity = "Paris"

// Fallback keywords when neither an override nor an activity mapping exists.
const (
	DefaultKeywords    = "immobilier entreprise"
	DefaultCCIKeywords = "immobilier"
)

// RegionCities maps region slugs to their main cities. The first city is the
// one searched by default.
var RegionCities = map[string][]string{
	"ile-de-france":            {"Paris", "Boulogne-Billancourt", "Saint-Denis", "Versailles", "Nanterre"},
	"auvergne-rhone-alpes":     {"Lyon", "Grenoble", "Saint-Étienne", "Clermont-Ferrand"},
	"provence-alpes-cote-azur": {"Marseille", "Nice", "Toulon", "Aix-en-Provence"},
	"occitanie":                {"Toulouse", "Montpellier", "Nîmes", "Perpignan"},
	"nouvelle-aquitaine":       {"Bordeaux", "Limoges", "Poitiers", "La Rochelle"},
	"bretagne":                 {"Rennes", "Brest", "Lorient", "Vannes"},
	"normandie":                {"Rouen", "Caen", "Le Havre", "Cherbourg"},
	"hauts-de-france":          {"Lille", "Amiens", "Dunkerque", "Roubaix"},
	"grand-est":                {"Strasbourg", "Reims", "Metz", "Nancy"},
	"pays-de-la-loire":         {"Nantes", "Angers", "Le Mans", "Saint-Nazaire"},
}

// ActivityKeywords maps activity slugs to search phrases. The first phrase is
// the one searched by default.
var ActivityKeywords = map[string][]string{
	"immobilier-entreprise": {"immobilier entreprise", "bureaux", "locaux professionnels"},
	"promotion-immobiliere": {"promoteur immobilier", "promotion immobiliere"},
	"gestion-patrimoine":    {"gestion patrimoine", "conseil patrimonial"},
	"agence-immobiliere":    {"agence immobiliere", "agent immobilier"},
	"investissement":        {"investissement immobilier", "SCPI"},
}

// Sources lists the supported source names.
var Sources = []string{model.SourcePagesJaunes, model.SourceCCI, model.SourceLinkedIn, model.SourceGoogle}

// ValidSource reports whether s is a supported source.
func ValidSource(s string) bool {
	for _, v := range Sources {
		if v == s {
			return true
		}
	}
	return false
}

// CityFor returns override when set, else the region's first city, else Paris.
func CityFor(region, override string) string {
	if c := strings.TrimSpace(override); c != "" {
		return c
	}
	if cities := RegionCities[region]; len(cities) > 0 {
		return cities[0]
	}
	return DefaultCity
}

// KeywordsFor returns override when set, else the activity's first phrase,
// else fallback.
func KeywordsFor(activity, override, fallback string) string {
	if k := strings.TrimSpace(override); k != "" {
		return k
	}
	if kws := ActivityKeywords[activity]; len(kws) > 0 {
		return kws[0]
	}
	return fallback
}

var (
	keywordJunk = regexp.MustCompile(`[^\p{L}\p{N}_\s]`)
	cityJunk    = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
)

// encodeComponent escapes s for a query value with spaces as %20.
func encodeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

// PagesJaunesURL builds the directory search URL. Punctuation in keywords
// becomes spaces; the city keeps only letters, digits, spaces and hyphens.
func PagesJaunesURL(keywords, city string) string {
	kw := strings.TrimSpace(keywordJunk.ReplaceAllString(keywords, " "))
	c := strings.TrimSpace(cityJunk.ReplaceAllString(city, ""))
	return pagesJaunesBaseURL + "/annuaire/chercherlespros?quoiqui=" + encodeComponent(kw) + "&ou=" + encodeComponent(c)
}

// CCIURL builds the CCI directory search by activity and location.
func CCIURL(keywords, city string) string {
	return cciBaseURL + "/recherche?activite=" + encodeComponent(keywords) + "&localisation=" + encodeComponent(city)
}

// CCISearchURL builds the CCI free-text search, used when the structured
// search returns nothing.
func CCISearchURL(keywords, city string) string {
	return cciBaseURL + "/recherche?q=" + encodeComponent(strings.TrimSpace(keywords+" "+city))
}

// GoogleQuery is the web search across company directories.
func GoogleQuery(keywords, city string) string {
	return keywords + " " + city + " site:linkedin.com OR site:societe.com OR site:pagesjaunes.fr"
}

// GoogleURL renders GoogleQuery as a search results URL.
func GoogleURL(keywords, city string) string {
	return googleSearchURL + encodeComponent(GoogleQuery(keywords, city))
}

// LinkedInURL is a Google search scoped to LinkedIn company pages.
func LinkedInURL(keywords, city string) string {
	return googleSearchURL + "site:linkedin.com/company+" + encodeComponent(keywords) + "+" + encodeComponent(city)
}
