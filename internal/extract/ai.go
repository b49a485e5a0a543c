package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-cli/internal/llm"
	"github.com/sells-group/prospect-cli/internal/resilience"
)

const aiSystem = `Tu es un expert en extraction de données d'entreprises. Tu analyses du contenu HTML/texte de pages web et extrais les informations des entreprises trouvées.

Retourne UNIQUEMENT un objet JSON de la forme {"companies": [...]}. Chaque entreprise doit avoir ces champs (laisse vide si non trouvé):
- companyName: nom de l'entreprise (OBLIGATOIRE)
- email: email de contact
- phone: numéro de téléphone
- address: adresse complète
- city: ville
- website: site web
- domain: domaine du site web (extrait du site web ou de l'email)

Règles:
- Extrais TOUTES les entreprises que tu trouves
- N'invente pas d'email : laisse le champ vide s'il n'apparaît pas
- Nettoie les données (supprime les espaces inutiles, formate les téléphones)
- Retourne {"companies": []} si aucune entreprise n'est trouvée`

// resultKeys are the top-level keys models use for the candidate list.
var resultKeys = []string{"companies", "prospects", "entreprises", "results"}

// AIStrategy extracts candidates with an LLM.
type AIStrategy struct {
	llm      llm.Completer
	maxChars int
}

// NewAIStrategy creates an AIStrategy that sends at most maxChars of text.
func NewAIStrategy(c llm.Completer, maxChars int) *AIStrategy {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	return &AIStrategy{llm: c, maxChars: maxChars}
}

// Name implements resilience.Strategy.
func (s *AIStrategy) Name() string { return "ai" }

// Try implements resilience.Strategy. Quota and rate-limit failures are
// retryable so the chain falls through to patterns. An unparseable reply
// falls through too. Any other provider error is fatal.
func (s *AIStrategy) Try(ctx context.Context, in Input) ([]Candidate, error) {
	out, err := s.llm.Complete(ctx, llm.Prompt{
		System:      aiSystem,
		User:        aiPrompt(in, s.maxChars),
		JSON:        true,
		MaxTokens:   4096,
		Temperature: 0.1,
	})
	if err != nil {
		if llm.IsQuotaExceeded(err) || llm.IsRateLimited(err) {
			return nil, resilience.Retryable(eris.Wrap(err, "extract: ai"))
		}
		return nil, resilience.Fatal(eris.Wrap(err, "extract: ai"))
	}

	cands, err := ParseCandidates(out)
	if err != nil {
		return nil, resilience.Retryable(err)
	}
	return cands, nil
}

func aiPrompt(in Input, maxChars int) string {
	return fmt.Sprintf("Analyse ce contenu et extrais les entreprises liées à %q dans la région %q:\n\n%s",
		in.Context.ActivityType, in.Context.Region, truncate(in.Text, maxChars))
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}

// ParseCandidates reads a model reply: either a bare array or an object
// holding the array under one of the known keys. Entries without a company
// name are dropped.
func ParseCandidates(reply string) ([]Candidate, error) {
	raw := []byte(llm.ExtractJSON(reply))

	var list []Candidate
	if strings.HasPrefix(strings.TrimSpace(string(raw)), "[") {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, eris.Wrap(err, "extract: parse ai array")
		}
	} else {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return nil, eris.Wrap(err, "extract: parse ai object")
		}
		for _, k := range resultKeys {
			v, ok := obj[k]
			if !ok {
				continue
			}
			if err := json.Unmarshal(v, &list); err != nil {
				return nil, eris.Wrapf(err, "extract: parse ai %s", k)
			}
			break
		}
	}

	out := make([]Candidate, 0, len(list))
	for _, c := range list {
		c.CompanyName = strings.TrimSpace(c.CompanyName)
		if c.CompanyName == "" {
			continue
		}
		c.Email = strings.ToLower(strings.TrimSpace(c.Email))
		c.Phone = strings.TrimSpace(c.Phone)
		c.Address = strings.TrimSpace(c.Address)
		c.City = strings.TrimSpace(c.City)
		c.Website = strings.TrimSpace(c.Website)
		c.Domain = strings.TrimSpace(c.Domain)
		out = append(out, c)
	}
	return out, nil
}
