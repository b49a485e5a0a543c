package extract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-cli/internal/llm"
)

type mockCompleter struct {
	reply  string
	err    error
	calls  int
	prompt llm.Prompt
}

func (m *mockCompleter) Complete(_ context.Context, p llm.Prompt) (string, error) {
	m.calls++
	m.prompt = p
	return m.reply, m.err
}

func (m *mockCompleter) Provider() string { return "mock" }

const listing = `# Agences immobilières à Bordeaux

**Cabinet Martin Immobilier**
12 rue Sainte-Catherine, 33000 Bordeaux
Tél : 05 56 44 12 34
contact@cabinet-martin.fr

**Orpi Bordeaux Centre**
www.orpi-bordeaux.fr
+33 5 56 00 11 22

Mentions légales`

func TestExtract_AISuccess(t *testing.T) {
	m := &mockCompleter{reply: `{"companies":[{"companyName":" Agence Durand ","email":"Contact@Durand.fr","city":"Lyon"},{"companyName":""}]}`}
	e := New(m)

	got, err := e.Extract(context.Background(), "page text", Context{Region: "auvergne-rhone-alpes", ActivityType: "agence-immobiliere"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Agence Durand", got[0].CompanyName)
	assert.Equal(t, "contact@durand.fr", got[0].Email)
	assert.Equal(t, "Lyon", got[0].City)

	assert.True(t, m.prompt.JSON)
	assert.InDelta(t, 0.1, m.prompt.Temperature, 1e-9)
	assert.Contains(t, m.prompt.User, `"agence-immobiliere"`)
	assert.Contains(t, m.prompt.User, `"auvergne-rhone-alpes"`)
	assert.Contains(t, m.prompt.System, "companyName")
}

func TestExtract_AITruncatesText(t *testing.T) {
	m := &mockCompleter{reply: `[]`}
	e := New(m, WithMaxChars(100))

	_, err := e.Extract(context.Background(), strings.Repeat("é", 200), Context{})
	require.NoError(t, err)
	body := m.prompt.User[strings.Index(m.prompt.User, "\n\n")+2:]
	assert.LessOrEqual(t, len(body), 100)
	assert.True(t, strings.HasPrefix(body, "é"))
}

func TestExtract_FallbackOnQuotaAndRateLimit(t *testing.T) {
	tests := []struct {
		name string
		kind llm.Kind
	}{
		{"quota", llm.KindQuota},
		{"rate limit", llm.KindRateLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &mockCompleter{err: &llm.Error{Kind: tt.kind, Err: errors.New("provider says no")}}
			got, err := New(m).Extract(context.Background(), listing, Context{})
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "Cabinet Martin Immobilier", got[0].CompanyName)
		})
	}
}

func TestExtract_OtherAIErrorYieldsEmpty(t *testing.T) {
	m := &mockCompleter{err: &llm.Error{Kind: llm.KindUnauthorized, Err: errors.New("bad key")}}
	got, err := New(m).Extract(context.Background(), listing, Context{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestExtract_MalformedReplyFallsBack(t *testing.T) {
	m := &mockCompleter{reply: "désolé, je ne peux pas"}
	got, err := New(m).Extract(context.Background(), listing, Context{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtract_NoCompleterUsesPatterns(t *testing.T) {
	got, err := New(nil).Extract(context.Background(), listing, Context{})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtract_CapsAtMax(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 30; i++ {
		fmt.Fprintf(&b, "**Agence Numero%d**\n\n", i)
	}
	got, err := New(nil).Extract(context.Background(), b.String(), Context{})
	require.NoError(t, err)
	assert.Len(t, got, DefaultMax)

	got, err = New(nil).Extract(context.Background(), b.String(), Context{Max: 5})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestExtract_AIResultCappedAtMax(t *testing.T) {
	m := &mockCompleter{reply: `[{"companyName":"A"},{"companyName":"B"},{"companyName":"C"}]`}
	got, err := New(m).Extract(context.Background(), "x", Context{Max: 2})
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestExtract_EmptyText(t *testing.T) {
	m := &mockCompleter{}
	got, err := New(m).Extract(context.Background(), "  \n", Context{})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Zero(t, m.calls)
}

func TestExtract_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(nil).Extract(ctx, listing, Context{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestParseCandidates(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		want    int
		wantErr bool
	}{
		{"bare array", `[{"companyName":"A"}]`, 1, false},
		{"companies key", `{"companies":[{"companyName":"A"},{"companyName":"B"}]}`, 2, false},
		{"prospects key", `{"prospects":[{"companyName":"A"}]}`, 1, false},
		{"entreprises key", `{"entreprises":[{"companyName":"A"}]}`, 1, false},
		{"results key", `{"results":[{"companyName":"A"}]}`, 1, false},
		{"unknown key", `{"other":[{"companyName":"A"}]}`, 0, false},
		{"wrapped in prose", "Voici:\n```json\n[{\"companyName\":\"A\"}]\n```", 1, false},
		{"garbage", `nope`, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseCandidates(tt.reply)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, got, tt.want)
		})
	}
}

func TestDomainHelpers(t *testing.T) {
	assert.Equal(t, "orpi-bordeaux.fr", DomainFromURL("https://www.Orpi-Bordeaux.fr/agence"))
	assert.Equal(t, "orpi-bordeaux.fr", DomainFromURL("www.orpi-bordeaux.fr"))
	assert.Equal(t, "", DomainFromURL(""))
	assert.Equal(t, "durand.fr", DomainFromEmail("contact@durand.fr"))
	assert.Equal(t, "", DomainFromEmail("nobody"))
	assert.Equal(t, "", DomainFromEmail("trailing@"))

	assert.Equal(t, "a.fr", DomainOf("a.fr", "https://b.fr", "x@c.fr"))
	assert.Equal(t, "b.fr", DomainOf("", "https://b.fr", "x@c.fr"))
	assert.Equal(t, "c.fr", DomainOf("", "", "x@c.fr"))
}
