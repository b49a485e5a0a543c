package render

import (
	"context"
	"strings"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/llm"
)

type mockCompleter struct{ mock.Mock }

func (m *mockCompleter) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	args := m.Called(ctx, p)
	return args.String(0), args.Error(1)
}

func (m *mockCompleter) Provider() string { return "mock" }

func TestTemplateGenerator_Generate(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.MatchedBy(func(p llm.Prompt) bool {
		return p.JSON &&
			strings.Contains(p.System, "{{aiPersonalization}}") &&
			strings.Contains(p.User, "Secteur: immobilier") &&
			strings.Contains(p.User, "Type d'entreprise cible: PME") &&
			strings.Contains(p.User, "Ton souhaité: chaleureux")
	})).Return(`{"name":"Immo","subject":"Bonjour {{companyName}}","body":"Texte {{aiPersonalization}}","category":"immobilier"}`, nil)

	g := NewTemplateGenerator(mc)
	tpl, fallback, err := g.Generate(context.Background(), GenerateRequest{Industry: "immobilier", Purpose: "rendez-vous", Tone: "chaleureux"})
	require.NoError(t, err)
	assert.False(t, fallback)
	assert.Equal(t, "Immo", tpl.Name)
	assert.Equal(t, "Bonjour {{companyName}}", tpl.Subject)
	mc.AssertExpectations(t)
}

func TestTemplateGenerator_FillsNameAndCategory(t *testing.T) {
	mc := new(mockCompleter)
	mc.On("Complete", mock.Anything, mock.Anything).Return(`{"subject":"S","body":"B"}`, nil)

	tpl, _, err := NewTemplateGenerator(mc).Generate(context.Background(), GenerateRequest{Industry: "conseil", Purpose: "p"})
	require.NoError(t, err)
	assert.Equal(t, "Template conseil", tpl.Name)
	assert.Equal(t, "conseil", tpl.Category)
}

func TestTemplateGenerator_Fallback(t *testing.T) {
	tests := []struct {
		name string
		kind llm.Kind
	}{
		{"quota", llm.KindQuota},
		{"rate limit", llm.KindRateLimit},
		{"unauthorized", llm.KindUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := new(mockCompleter)
			mc.On("Complete", mock.Anything, mock.Anything).
				Return("", &llm.Error{Kind: tt.kind, Err: eris.New("provider refused")})

			tpl, fallback, err := NewTemplateGenerator(mc).Generate(context.Background(), GenerateRequest{Industry: "immobilier", Purpose: "p"})
			require.NoError(t, err)
			assert.True(t, fallback)
			assert.Equal(t, FallbackTemplate("immobilier"), tpl)
		})
	}
}

func TestTemplateGenerator_NoCompleter(t *testing.T) {
	tpl, fallback, err := NewTemplateGenerator(nil).Generate(context.Background(), GenerateRequest{Industry: "x", Purpose: "y"})
	require.NoError(t, err)
	assert.True(t, fallback)
	assert.Equal(t, "Template x", tpl.Name)
}

func TestTemplateGenerator_Errors(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerateRequest
		reply   string
		err     error
		wantMsg string
	}{
		{"missing purpose", GenerateRequest{Industry: "x"}, "", nil, "industry and purpose are required"},
		{"other provider error", GenerateRequest{Industry: "x", Purpose: "y"}, "", &llm.Error{Kind: llm.KindOther, Err: eris.New("overloaded")}, "render: generate template"},
		{"invalid json", GenerateRequest{Industry: "x", Purpose: "y"}, "{nope", nil, "render: parse generated template"},
		{"missing body", GenerateRequest{Industry: "x", Purpose: "y"}, `{"subject":"S"}`, nil, "missing subject or body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mc := new(mockCompleter)
			mc.On("Complete", mock.Anything, mock.Anything).Return(tt.reply, tt.err)

			_, fallback, err := NewTemplateGenerator(mc).Generate(context.Background(), tt.req)
			require.Error(t, err)
			assert.False(t, fallback)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
