package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTemplates(t *testing.T) {
	tpls, err := DefaultTemplates()
	require.NoError(t, err)
	require.Len(t, tpls, 3)

	for _, tpl := range tpls {
		assert.NotEmpty(t, tpl.Name)
		assert.NotEmpty(t, tpl.Subject)
		assert.NotEmpty(t, tpl.Category)
		assert.Contains(t, tpl.Body, "{{")
		assert.True(t, strings.HasSuffix(tpl.Body, "\n"), "literal block keeps the trailing newline")
	}
	assert.Contains(t, tpls[0].Body, "{{aiPersonalization}}")
}

func TestFallbackTemplate(t *testing.T) {
	tpl := FallbackTemplate("promotion immobilière")
	assert.Equal(t, "Template promotion immobilière", tpl.Name)
	assert.Equal(t, "promotion immobilière", tpl.Category)
	assert.Equal(t, "Proposition de collaboration - {{companyName}}", tpl.Subject)
	assert.Contains(t, tpl.Body, "{{aiPersonalization}}")
	assert.Contains(t, tpl.Body, "{{region}}")

	def := FallbackTemplate("")
	assert.Equal(t, "Template Prospection", def.Name)
	assert.Equal(t, "prospection", def.Category)
}
