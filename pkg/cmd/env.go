package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/outflow/outflow/pkg/gateway"
)

// LoadEnv loads .env from the working directory. A missing file is not an error.
func LoadEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load .env: %w", err)
	}

	return nil
}

// NewContentResolver loads YAML templates from dir. Without a directory only inline
// stage content can be sent.
//
//nolint:ireturn // nil means no resolver
func NewContentResolver(dir string) (gateway.ContentResolver, error) {
	if dir == "" {
		return nil, nil
	}

	resolver, err := gateway.NewTemplateResolver(dir)
	if err != nil {
		return nil, err
	}

	return resolver, nil
}
