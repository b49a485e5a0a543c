package render

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/llm"
	"github.com/sells-group/prospect-cli/internal/model"
)

// GenerateRequest describes the template to write.
type GenerateRequest struct {
	Industry    string `json:"industry" validate:"required"`
	Purpose     string `json:"purpose" validate:"required"`
	Tone        string `json:"tone,omitempty"`
	CompanyType string `json:"company_type,omitempty"`
}

const generatorSystem = `Tu es un expert en rédaction d'emails de prospection B2B en français. Tu crées des templates d'emails professionnels et efficaces.

Règles:
- Utilise les variables {{companyName}}, {{domain}}, {{region}} dans le contenu
- Ajoute {{aiPersonalization}} quelque part pour la personnalisation automatique
- Le ton doit être professionnel mais pas trop formel
- L'email doit être concis (max 150 mots)
- Inclus un call-to-action clair
- Ne mets pas de signature (elle sera ajoutée automatiquement)

Retourne un JSON avec: { "name": "...", "subject": "...", "body": "...", "category": "..." }`

// TemplateGenerator writes new templates with an LLM.
type TemplateGenerator struct {
	llm llm.Completer
}

// NewTemplateGenerator creates a generator. A nil completer always yields the
// fallback template.
func NewTemplateGenerator(c llm.Completer) *TemplateGenerator {
	return &TemplateGenerator{llm: c}
}

// Generate returns an AI-written template. When the provider is missing, out
// of quota, throttled or rejects the key, the fallback template is returned
// with fallback=true. Other provider errors are returned.
func (g *TemplateGenerator) Generate(ctx context.Context, req GenerateRequest) (model.Template, bool, error) {
	if strings.TrimSpace(req.Industry) == "" || strings.TrimSpace(req.Purpose) == "" {
		return model.Template{}, false, eris.New("render: industry and purpose are required")
	}
	if g.llm == nil {
		return FallbackTemplate(req.Industry), true, nil
	}

	out, err := g.llm.Complete(ctx, llm.Prompt{
		System:      generatorSystem,
		User:        generatorPrompt(req),
		JSON:        true,
		MaxTokens:   1024,
		Temperature: 0.7,
	})
	if err != nil {
		if llm.IsQuotaExceeded(err) || llm.IsRateLimited(err) || llm.IsUnauthorized(err) {
			zap.L().Warn("render: template generation unavailable, using fallback",
				zap.String("industry", req.Industry),
				zap.Error(err),
			)
			return FallbackTemplate(req.Industry), true, nil
		}
		return model.Template{}, false, eris.Wrap(err, "render: generate template")
	}

	var tpl model.Template
	if err := json.Unmarshal([]byte(llm.ExtractJSON(out)), &tpl); err != nil {
		return model.Template{}, false, eris.Wrap(err, "render: parse generated template")
	}
	if tpl.Subject == "" || tpl.Body == "" {
		return model.Template{}, false, eris.New("render: generated template is missing subject or body")
	}
	if tpl.Name == "" {
		tpl.Name = "Template " + req.Industry
	}
	if tpl.Category == "" {
		tpl.Category = req.Industry
	}
	return tpl, false, nil
}

func generatorPrompt(req GenerateRequest) string {
	companyType := req.CompanyType
	if companyType == "" {
		companyType = "PME"
	}
	tone := req.Tone
	if tone == "" {
		tone = "professionnel"
	}
	return fmt.Sprintf(`Crée un template d'email de prospection pour:
- Secteur: %s
- Objectif: %s
- Type d'entreprise cible: %s
- Ton souhaité: %s`, req.Industry, req.Purpose, companyType, tone)
}
