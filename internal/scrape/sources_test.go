package scrape

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCityFor(t *testing.T) {
	assert.Equal(t, "Lyon", CityFor("auvergne-rhone-alpes", ""))
	assert.Equal(t, "Annecy", CityFor("auvergne-rhone-alpes", " Annecy "))
	assert.Equal(t, "Paris", CityFor("corse", ""))
	assert.Len(t, RegionCities, 10)
}

func TestKeywordsFor(t *testing.T) {
	assert.Equal(t, "promoteur immobilier", KeywordsFor("promotion-immobiliere", "", DefaultKeywords))
	assert.Equal(t, "bureaux", KeywordsFor("promotion-immobiliere", "bureaux", DefaultKeywords))
	assert.Equal(t, "immobilier entreprise", KeywordsFor("unknown", "", DefaultKeywords))
	assert.Equal(t, "immobilier", KeywordsFor("unknown", "", DefaultCCIKeywords))
	assert.Len(t, ActivityKeywords, 5)
}

func TestValidSource(t *testing.T) {
	for _, s := range []string{"pagesjaunes", "cci", "linkedin", "google"} {
		assert.True(t, ValidSource(s), s)
	}
	assert.False(t, ValidSource("custom"))
	assert.False(t, ValidSource(""))
}

func TestSourceURLs(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{
			"pagesjaunes",
			PagesJaunesURL("immobilier entreprise", "Paris"),
			"https://www.pagesjaunes.fr/annuaire/chercherlespros?quoiqui=immobilier%20entreprise&ou=Paris",
		},
		{
			"pagesjaunes cleans punctuation",
			PagesJaunesURL("bureaux/locaux", "Saint-Étienne (42)"),
			"https://www.pagesjaunes.fr/annuaire/chercherlespros?quoiqui=bureaux%20locaux&ou=Saint-%C3%89tienne%2042",
		},
		{
			"cci",
			CCIURL("immobilier", "Lyon"),
			"https://annuaire.entreprises.cci.fr/recherche?activite=immobilier&localisation=Lyon",
		},
		{
			"cci free text",
			CCISearchURL("immobilier", "Lyon"),
			"https://annuaire.entreprises.cci.fr/recherche?q=immobilier%20Lyon",
		},
		{
			"linkedin",
			LinkedInURL("gestion patrimoine", "Rennes"),
			"https://www.google.com/search?q=site:linkedin.com/company+gestion%20patrimoine+Rennes",
		},
		{
			"google",
			GoogleURL("bureaux", "Nantes"),
			"https://www.google.com/search?q=bureaux%20Nantes%20site%3Alinkedin.com%20OR%20site%3Asociete.com%20OR%20site%3Apagesjaunes.fr",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestGoogleQuery(t *testing.T) {
	assert.Equal(t, "bureaux Nantes site:linkedin.com OR site:societe.com OR site:pagesjaunes.fr", GoogleQuery("bureaux", "Nantes"))
}
