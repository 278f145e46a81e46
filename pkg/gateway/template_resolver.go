package gateway

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/outflow/outflow/pkg/models"
	"gopkg.in/yaml.v3"
)

type templateFile struct {
	Name    string `yaml:"name"`
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
	IsHTML  bool   `yaml:"is_html"`
}

// TemplateResolver serves templates from *.yaml files in a directory. A file's
// reference is its name key, or the file name without extension.
type TemplateResolver struct {
	dir       string
	mu        sync.RWMutex
	templates map[string]models.Content
}

func NewTemplateResolver(dir string) (*TemplateResolver, error) {
	resolver := &TemplateResolver{dir: dir}

	if err := resolver.Reload(); err != nil {
		return nil, err
	}

	return resolver, nil
}

// Reload rereads the directory.
func (r *TemplateResolver) Reload() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return fmt.Errorf("failed to read template directory: %w", err)
	}

	templates := make(map[string]models.Content)

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(r.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read template %s: %w", entry.Name(), err)
		}

		var file templateFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse template %s: %w", entry.Name(), err)
		}

		if strings.TrimSpace(file.Body) == "" {
			return fmt.Errorf("template %s has no body", entry.Name())
		}

		name := file.Name
		if name == "" {
			name = strings.TrimSuffix(entry.Name(), ext)
		}

		if _, exists := templates[name]; exists {
			return fmt.Errorf("template %q is defined twice", name)
		}

		templates[name] = models.Content{Subject: file.Subject, Body: file.Body, IsHTML: file.IsHTML}
	}

	r.mu.Lock()
	r.templates = templates
	r.mu.Unlock()

	return nil
}

func (r *TemplateResolver) Resolve(_ context.Context, templateRef string) (*models.Content, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	content, ok := r.templates[templateRef]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateRef)
	}

	return &content, nil
}
