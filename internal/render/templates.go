package render

import (
	_ "embed"
	"fmt"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/prospect-cli/internal/model"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// DefaultTemplates returns the seed templates shipped with the binary.
func DefaultTemplates() ([]model.Template, error) {
	var doc struct {
		Templates []model.Template `yaml:"templates"`
	}
	if err := yaml.Unmarshal(defaultsYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "render: parse default templates")
	}
	return doc.Templates, nil
}

// FallbackTemplate is the template offered when AI generation is unavailable.
func FallbackTemplate(industry string) model.Template {
	name := "Prospection"
	category := "prospection"
	if industry != "" {
		name = industry
		category = industry
	}
	return model.Template{
		Name:    fmt.Sprintf("Template %s", name),
		Subject: "Proposition de collaboration - {{companyName}}",
		Body: `Bonjour,

Je me permets de vous contacter car notre agence accompagne les entreprises comme {{companyName}} dans la région {{region}}.

{{aiPersonalization}}

Notre expertise pourrait vous aider à développer votre activité. Seriez-vous disponible pour un court échange téléphonique cette semaine ?

Dans l'attente de votre retour,`,
		Category: category,
	}
}
