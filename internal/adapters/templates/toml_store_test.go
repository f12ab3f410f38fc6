package templates

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mikey/phishguard/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuiltinStore(t *testing.T) {
	s := NewBuiltinStore()
	assert.Equal(t, []string{"de", "en", "fr"}, s.Languages())

	tmpl, err := s.GetTemplate("EN")
	require.NoError(t, err)
	assert.Equal(t, "en", tmpl.Language)
	assert.Contains(t, tmpl.Subject, "{{.SenderDomain}}")

	_, err = s.GetTemplate("ja")
	assert.ErrorIs(t, err, core.ErrTemplateMissing)
}

func TestBuiltinTemplatesParse(t *testing.T) {
	for lang, e := range builtin {
		assert.NoError(t, validate(e), lang)
	}
}

func TestParseOverridesAndAdds(t *testing.T) {
	data := `
[templates.en]
subject = "Custom {{.SenderDomain}}"
body = "Body {{.Score}}"

[templates.pt_br]
subject = "Relatório {{.SenderDomain}}"
body = "Pontuação {{.Score}}"
`
	s, err := Parse(data, zap.NewNop())
	require.NoError(t, err)

	en, err := s.GetTemplate("en")
	require.NoError(t, err)
	assert.Equal(t, "Custom {{.SenderDomain}}", en.Subject)

	pt, err := s.GetTemplate("pt-BR")
	require.NoError(t, err)
	assert.Equal(t, "pt-BR", pt.Language)

	// builtin German is still there
	_, err = s.GetTemplate("de")
	assert.NoError(t, err)
}

func TestParseRejectsBrokenTemplates(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "bad toml", data: "[templates.en\nsubject = 1"},
		{name: "missing body", data: "[templates.en]\nsubject = \"x\"\n"},
		{name: "bad template", data: "[templates.en]\nsubject = \"{{.Score\"\nbody = \"x\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.data, zap.NewNop())
			assert.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "templates.toml")
	require.NoError(t, os.WriteFile(path, []byte("[templates.nl]\nsubject = \"Melding {{.SenderDomain}}\"\nbody = \"Score {{.Score}}\"\n"), 0o644))

	s, err := LoadFile(path, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, []string{"de", "en", "fr", "nl"}, s.Languages())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"), zap.NewNop())
	assert.Error(t, err)
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "de-AT", normalize("de_at"))
	assert.Equal(t, "de-AT", normalize(" DE-AT "))
	assert.Equal(t, "zh-Hant", normalize("zh-Hant"))
}
