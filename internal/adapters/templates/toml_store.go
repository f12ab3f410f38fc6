// Package templates provides localized abuse report templates.
package templates

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"text/template"

	"github.com/BurntSushi/toml"
	"github.com/mikey/phishguard/internal/core"
	"go.uber.org/zap"
)

// File is the on-disk layout of a template pack:
//
//	[templates.en]
//	subject = "Phishing report: {{.SenderDomain}}"
//	body = """..."""
type File struct {
	Templates map[string]Entry `toml:"templates"`
}

// Entry is one language in a template pack
type Entry struct {
	Subject string `toml:"subject"`
	Body    string `toml:"body"`
}

// Store implements core.TemplateStore
type Store struct {
	mu        sync.RWMutex
	templates map[string]*core.ReportTemplate
}

// NewBuiltinStore returns a store with the English, German and French defaults
func NewBuiltinStore() *Store {
	s := &Store{templates: make(map[string]*core.ReportTemplate)}
	for lang, e := range builtin {
		s.put(lang, e)
	}
	return s
}

// LoadFile reads a TOML template pack on top of the builtin templates.
// Languages in the file replace the builtin ones.
func LoadFile(path string, logger *zap.Logger) (*Store, error) {
	var f File
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", path, err)
	}
	return fromFile(f, path, logger)
}

// Parse decodes a TOML template pack from a string
func Parse(data string, logger *zap.Logger) (*Store, error) {
	var f File
	if _, err := toml.Decode(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	return fromFile(f, "inline", logger)
}

func fromFile(f File, source string, logger *zap.Logger) (*Store, error) {
	s := NewBuiltinStore()
	for lang, e := range f.Templates {
		if err := validate(e); err != nil {
			return nil, fmt.Errorf("template %q in %s: %w", lang, source, err)
		}
		s.put(lang, e)
	}
	logger.Info("Loaded report templates",
		zap.String("source", source),
		zap.Strings("languages", s.Languages()))
	return s, nil
}

// validate makes sure both sources parse so bad packs fail at startup
func validate(e Entry) error {
	if strings.TrimSpace(e.Subject) == "" || strings.TrimSpace(e.Body) == "" {
		return fmt.Errorf("subject and body are required")
	}
	funcs := template.FuncMap{"join": strings.Join, "upper": strings.ToUpper}
	if _, err := template.New("subject").Funcs(funcs).Parse(e.Subject); err != nil {
		return err
	}
	if _, err := template.New("body").Funcs(funcs).Parse(e.Body); err != nil {
		return err
	}
	return nil
}

func (s *Store) put(lang string, e Entry) {
	lang = normalize(lang)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[lang] = &core.ReportTemplate{Language: lang, Subject: e.Subject, Body: e.Body}
}

// GetTemplate implements core.TemplateStore
func (s *Store) GetTemplate(language string) (*core.ReportTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[normalize(language)]
	if !ok {
		return nil, fmt.Errorf("language %q: %w", language, core.ErrTemplateMissing)
	}
	c := *t
	return &c, nil
}

// Languages implements core.TemplateStore
func (s *Store) Languages() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.templates))
	for lang := range s.templates {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

// normalize lowercases the language and regions the way x/text prints tags,
// so "de_at" and "de-AT" both become "de-AT"
func normalize(lang string) string {
	lang = strings.ReplaceAll(strings.TrimSpace(lang), "_", "-")
	parts := strings.Split(lang, "-")
	parts[0] = strings.ToLower(parts[0])
	for i := 1; i < len(parts); i++ {
		if len(parts[i]) == 2 {
			parts[i] = strings.ToUpper(parts[i])
		}
	}
	return strings.Join(parts, "-")
}
