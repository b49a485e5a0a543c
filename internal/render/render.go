// Package render substitutes lead variables into email templates and
// optionally asks an LLM for a personalized paragraph.
package render

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

// FallbackPersonalization replaces {{aiPersonalization}} when no paragraph
// could be generated.
const FallbackPersonalization = "Nous serions ravis de discuter de vos projets digitaux."

const aiToken = "aiPersonalization"

var placeholderRe = regexp.MustCompile(`\{\{([^{}]*)\}\}`)

// Vars are the lead fields available to templates.
type Vars struct {
	CompanyName  string
	Domain       string
	Region       string
	City         string
	ActivityType string
}

// VarsFromLead extracts template variables from a lead.
func VarsFromLead(l model.Lead) Vars {
	return Vars{
		CompanyName:  l.CompanyName,
		Domain:       l.Domain,
		Region:       l.Region,
		City:         l.City,
		ActivityType: l.ActivityType,
	}
}

func (v Vars) lookup(name string) string {
	switch name {
	case "companyName":
		return v.CompanyName
	case "domain":
		return v.Domain
	case "region":
		return v.Region
	case "city":
		return v.City
	case "activityType":
		return v.ActivityType
	}
	return ""
}

// Rendered is a personalized subject and plain-text body.
type Rendered struct {
	Subject string
	Body    string
}

// Generator produces free text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Renderer personalizes templates. A nil Generator always uses the fallback
// sentence.
type Renderer struct {
	gen Generator
}

// NewRenderer creates a Renderer. gen may be nil.
func NewRenderer(gen Generator) *Renderer {
	return &Renderer{gen: gen}
}

// Render substitutes vars into the template. The subject gets variables only.
// The body's {{aiPersonalization}} is replaced by a generated paragraph or the
// fallback sentence. Unknown placeholders are removed.
func (r *Renderer) Render(ctx context.Context, tpl model.Template, vars Vars) Rendered {
	var ai *string
	personalized := func() string {
		if ai == nil {
			text := r.personalize(ctx, vars)
			ai = &text
		}
		return *ai
	}
	return Rendered{
		Subject: expand(tpl.Subject, vars, func() string { return "" }),
		Body:    expand(tpl.Body, vars, personalized),
	}
}

// Substitute replaces every placeholder until none is left. aiText fills
// {{aiPersonalization}}; anything unknown becomes "". Stray "{{" and "}}"
// are dropped so rendering twice is the same as once.
func Substitute(text string, vars Vars, aiText string) string {
	return expand(text, vars, func() string { return aiText })
}

// maxPasses bounds expansion when values rebuild the token they replaced.
const maxPasses = 8

func expand(text string, vars Vars, ai func() string) string {
	for range maxPasses {
		next := placeholderRe.ReplaceAllStringFunc(text, func(tok string) string {
			name := strings.TrimSpace(placeholderRe.FindStringSubmatch(tok)[1])
			if name == aiToken {
				return clean(ai())
			}
			return clean(vars.lookup(name))
		})
		if next == text {
			break
		}
		text = next
	}
	return stripBraces(text)
}

func clean(s string) string {
	return stripBraces(placeholderRe.ReplaceAllString(s, ""))
}

// stripBraces removes "{{" and "}}" until neither remains. Removing one
// pair can join its neighbours into another.
func stripBraces(s string) string {
	for strings.Contains(s, "{{") || strings.Contains(s, "}}") {
		s = strings.ReplaceAll(strings.ReplaceAll(s, "{{", ""), "}}", "")
	}
	return s
}

func (r *Renderer) personalize(ctx context.Context, vars Vars) string {
	if r.gen == nil {
		return FallbackPersonalization
	}
	text, err := r.gen.Generate(ctx, PersonalizationPrompt(vars))
	if err != nil {
		zap.L().Warn("render: personalization failed, using fallback",
			zap.String("company", vars.CompanyName),
			zap.Error(err),
		)
		return FallbackPersonalization
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return FallbackPersonalization
	}
	return text
}

// PersonalizationSystem is the system prompt paired with PersonalizationPrompt.
const PersonalizationSystem = "Tu es un expert en prospection B2B. Réponds uniquement avec le paragraphe demandé, sans ajout."

// PersonalizationPrompt asks for a short French B2B paragraph about a company.
func PersonalizationPrompt(v Vars) string {
	var who strings.Builder
	fmt.Fprintf(&who, "l'entreprise %q", v.CompanyName)
	if v.Region != "" {
		fmt.Fprintf(&who, " située en %s", v.Region)
	}
	if v.ActivityType != "" {
		fmt.Fprintf(&who, " spécialisée en %s", v.ActivityType)
	}

	return fmt.Sprintf(`Tu es un expert en prospection B2B pour une agence de développement spécialisée en immobilier d'entreprise.

Écris un paragraphe personnalisé (2-3 phrases maximum) pour %s.

Le paragraphe doit :
- Être professionnel et engageant
- Mentionner un point spécifique lié à leur secteur d'activité
- Proposer de la valeur (solutions digitales, automatisation, etc.)
- Être concis et percutant

Ne pas inclure de formule de politesse (bonjour, cordialement, etc.)`, who.String())
}

var htmlEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")

const htmlShell = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <style>
    body {
      font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif;
      line-height: 1.6;
      color: #333;
      max-width: 600px;
      margin: 0 auto;
      padding: 20px;
    }
  </style>
</head>
<body>
  %s
</body>
</html>`

// TextToHTML escapes &, < and >, turns newlines into <br> and wraps the
// result in a minimal HTML document.
func TextToHTML(text string) string {
	escaped := htmlEscaper.Replace(text)
	return fmt.Sprintf(htmlShell, strings.ReplaceAll(escaped, "\n", "<br>"))
}
