package prompts

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

var _ ports.PromptRenderer = (*Renderer)(nil)

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Partitions map[string]string        `yaml:"partitions"`
	Templates  map[string]templateEntry `yaml:"templates"`
	Partials   map[string]string        `yaml:"partials"`
}

type templateEntry struct {
	System string `yaml:"system"`
	User   string `yaml:"user"`
}

type compiledTemplate struct {
	system *template.Template
	user   *template.Template
}

// Renderer turns named instruction templates into chat messages. Templates
// are parsed once and are safe for concurrent use.
type Renderer struct {
	templates map[string]compiledTemplate
}

func NewDefault() (*Renderer, error) {
	return New(defaultCatalog)
}

func New(raw []byte) (*Renderer, error) {
	var catalog catalogFile
	if err := yaml.Unmarshal(raw, &catalog); err != nil {
		return nil, fmt.Errorf("decode prompt catalog: %w", err)
	}
	if len(catalog.Templates) == 0 {
		return nil, fmt.Errorf("prompt catalog has no templates")
	}

	funcs := template.FuncMap{
		"describe": func(p domain.Partition) string {
			if desc, ok := catalog.Partitions[p.String()]; ok {
				return desc
			}
			return p.String()
		},
		"speaker": speaker,
	}

	base := template.New("").Funcs(funcs).Option("missingkey=error")
	names := make([]string, 0, len(catalog.Partials))
	for name := range catalog.Partials {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, err := base.New(name).Parse(catalog.Partials[name]); err != nil {
			return nil, fmt.Errorf("parse partial %s: %w", name, err)
		}
	}

	r := &Renderer{templates: make(map[string]compiledTemplate, len(catalog.Templates))}
	for name, entry := range catalog.Templates {
		system, err := parseWith(base, name+".system", entry.System)
		if err != nil {
			return nil, err
		}
		user, err := parseWith(base, name+".user", entry.User)
		if err != nil {
			return nil, err
		}
		r.templates[name] = compiledTemplate{system: system, user: user}
	}
	return r, nil
}

func parseWith(base *template.Template, name, text string) (*template.Template, error) {
	clone, err := base.Clone()
	if err != nil {
		return nil, fmt.Errorf("clone prompt partials: %w", err)
	}
	tmpl, err := clone.New(name).Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt %s: %w", name, err)
	}
	return tmpl, nil
}

func (r *Renderer) Render(name string, data any) ([]domain.ChatMessage, error) {
	tmpl, ok := r.templates[name]
	if !ok {
		return nil, fmt.Errorf("unknown prompt template %q", name)
	}

	system, err := execute(tmpl.system, data)
	if err != nil {
		return nil, fmt.Errorf("render %s system prompt: %w", name, err)
	}
	user, err := execute(tmpl.user, data)
	if err != nil {
		return nil, fmt.Errorf("render %s user prompt: %w", name, err)
	}

	messages := make([]domain.ChatMessage, 0, 2)
	if system != "" {
		messages = append(messages, domain.ChatMessage{Role: domain.ChatRoleSystem, Content: system})
	}
	messages = append(messages, domain.ChatMessage{Role: domain.ChatRoleUser, Content: user})
	return messages, nil
}

func execute(tmpl *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := tmpl.Execute(&b, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func speaker(role domain.Role) string {
	if role == domain.RoleUser {
		return "사용자"
	}
	return "AI"
}
