// Package i18n serves the bot's user-facing texts from YAML catalogues.
//
// Each file holds one or more top-level language keys with nested sections below them.
// Nested keys are addressed with dots, e.g. "feedback.thanks".
package i18n

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed locales/*.yaml
var locales embed.FS

// Translator resolves localized strings using dot-separated keys.
type Translator interface {
	T(key string) string
	// Tf formats the translation of key with args.
	Tf(key string, args ...any) string
	Lang() string
}

type catalog map[string]string

// Manager holds the parsed catalogues by language.
type Manager struct {
	catalogs    map[string]catalog
	defaultLang string
}

// Load loads the catalogues compiled into the binary.
func Load(defaultLang string) (*Manager, error) {
	return LoadFS(locales, "locales", defaultLang)
}

// LoadFS loads every YAML file of dir inside fsys.
func LoadFS(fsys fs.FS, dir, defaultLang string) (*Manager, error) {
	if defaultLang == "" {
		defaultLang = "ru"
	}

	names, err := fs.Glob(fsys, path.Join(dir, "*.y*ml"))
	if err != nil {
		return nil, fmt.Errorf("i18n: list %s: %w", dir, err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("i18n: no yaml files found in %s", dir)
	}

	m := &Manager{catalogs: make(map[string]catalog), defaultLang: defaultLang}
	for _, name := range names {
		if err := m.merge(fsys, name); err != nil {
			return nil, err
		}
	}

	if _, ok := m.catalogs[defaultLang]; !ok {
		return nil, fmt.Errorf("i18n: default language %q is missing", defaultLang)
	}

	return m, nil
}

// Translator returns a translator for lang, or for the default language when lang is unknown.
func (m *Manager) Translator(lang string) Translator {
	if m == nil {
		return translator{}
	}

	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := m.catalogs[lang]; !ok {
		lang = m.defaultLang
	}

	return translator{
		lang:     lang,
		primary:  m.catalogs[lang],
		fallback: m.catalogs[m.defaultLang],
	}
}

// Languages returns the loaded languages in sorted order.
func (m *Manager) Languages() []string {
	if m == nil {
		return nil
	}

	out := make([]string, 0, len(m.catalogs))
	for lang := range m.catalogs {
		out = append(out, lang)
	}
	sort.Strings(out)
	return out
}

func (m *Manager) merge(fsys fs.FS, name string) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("i18n: read file %s: %w", name, err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("i18n: parse file %s: %w", name, err)
	}
	if len(doc.Content) == 0 {
		return nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return fmt.Errorf("i18n: %s: top level must map languages to sections", name)
	}

	for i := 0; i+1 < len(root.Content); i += 2 {
		lang := strings.ToLower(strings.TrimSpace(root.Content[i].Value))
		if lang == "" {
			continue
		}
		if m.catalogs[lang] == nil {
			m.catalogs[lang] = make(catalog)
		}
		collect("", root.Content[i+1], m.catalogs[lang])
	}

	return nil
}

// collect walks node and stores every scalar leaf under its dotted path.
func collect(prefix string, node *yaml.Node, into catalog) {
	switch node.Kind {
	case yaml.ScalarNode:
		if prefix != "" {
			into[prefix] = node.Value
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key := node.Content[i].Value
			if key == "" {
				continue
			}
			if prefix != "" {
				key = prefix + "." + key
			}
			collect(key, node.Content[i+1], into)
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			collect(prefix, node.Alias, into)
		}
	}
}

type translator struct {
	lang     string
	primary  catalog
	fallback catalog
}

func (t translator) Lang() string {
	return t.lang
}

// T returns the text for key, falling back to the default language and then to the key itself.
func (t translator) T(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	if v, ok := t.primary[key]; ok {
		return v
	}
	if v, ok := t.fallback[key]; ok {
		return v
	}
	return key
}

func (t translator) Tf(key string, args ...any) string {
	return fmt.Sprintf(t.T(key), args...)
}
