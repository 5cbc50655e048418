package language

import (
	"fmt"
	"os"
	"sort"
	"strings"

	appErr "judgeline/pkg/errors"

	"gopkg.in/yaml.v3"
)

// Registry resolves language ids to their definitions.
type Registry interface {
	Get(id string) (Language, error)
	List() []Language
}

// LocalRegistry holds language definitions in memory.
type LocalRegistry struct {
	languages map[string]Language
}

var _ Registry = (*LocalRegistry)(nil)

// NewLocalRegistry validates the entries and indexes them by id.
func NewLocalRegistry(languages []Language) (*LocalRegistry, error) {
	index := make(map[string]Language, len(languages))
	for _, lang := range languages {
		lang.ID = strings.TrimSpace(lang.ID)
		if err := lang.Validate(); err != nil {
			return nil, err
		}
		if _, dup := index[lang.ID]; dup {
			return nil, appErr.Newf(appErr.InvalidValue, "duplicate language %s", lang.ID)
		}
		index[lang.ID] = lang
	}
	return &LocalRegistry{languages: index}, nil
}

// Get returns a language definition.
func (r *LocalRegistry) Get(id string) (Language, error) {
	if id == "" {
		return Language{}, appErr.ValidationError("language", "required")
	}
	lang, ok := r.languages[id]
	if !ok {
		return Language{}, appErr.New(appErr.LanguageNotSupported).WithMessagef("language %s not supported", id)
	}
	return lang, nil
}

// List returns all languages sorted by id.
func (r *LocalRegistry) List() []Language {
	out := make([]Language, 0, len(r.languages))
	for _, lang := range r.languages {
		out = append(out, lang)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type registryFile struct {
	Languages []Language `yaml:"languages"`
}

// LoadFile reads a YAML file with a top-level "languages" list.
func LoadFile(path string) (*LocalRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read language registry failed: %w", err)
	}
	var file registryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse language registry failed: %w", err)
	}
	if len(file.Languages) == 0 {
		return nil, fmt.Errorf("language registry %s is empty", path)
	}
	return NewLocalRegistry(file.Languages)
}

// Defaults returns the built-in language set used when no registry file is configured.
func Defaults() []Language {
	return []Language{
		{
			ID:             "cpp17",
			Image:          "gcc:13",
			SourceFile:     "main.cpp",
			BinaryFile:     "main",
			CompileCommand: "g++ -O2 -std=c++17 -pipe -o {bin} {src}",
			RunCommand:     "./{bin}",
		},
		{
			ID:             "c11",
			Image:          "gcc:13",
			SourceFile:     "main.c",
			BinaryFile:     "main",
			CompileCommand: "gcc -O2 -std=c11 -pipe -o {bin} {src} -lm",
			RunCommand:     "./{bin}",
		},
		{
			ID:             "java17",
			Image:          "eclipse-temurin:17-jdk",
			SourceFile:     "Main.java",
			CompileCommand: "javac -encoding UTF-8 {src}",
			RunCommand:     "java -Xss64m -cp . Main",
		},
		{
			ID:         "python3",
			Image:      "python:3.12-slim",
			SourceFile: "main.py",
			RunCommand: "python3 {src}",
		},
		{
			ID:         "javascript",
			Image:      "node:20-slim",
			SourceFile: "main.js",
			RunCommand: "node {src}",
		},
	}
}
