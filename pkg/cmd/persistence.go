// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/outflow/outflow/pkg/persistence"
	"github.com/outflow/outflow/pkg/persistence/file"
	"github.com/outflow/outflow/pkg/persistence/memory"
	"github.com/outflow/outflow/pkg/persistence/postgresql"
)

var supportedPersistenceProviders = []string{"memory", "postgres", "postgresql"}

// NewPersistence opens the ledger named by databaseURL. When flowsDir is set, flow
// definitions are served from JSON files in that directory instead of the ledger.
//
//nolint:ireturn // the provider is chosen at runtime
func NewPersistence(
	ctx context.Context,
	logger *slog.Logger,
	databaseURL string,
	flowsDir string,
	statementTimeout time.Duration,
) (persistence.Persistence, error) {
	var ledger persistence.Persistence

	switch provider := parsePersistenceProvider(databaseURL); provider {
	case "memory":
		logger.WarnContext(ctx, "using in-memory ledger, state is lost on exit")

		ledger = memory.NewPersistence()
	case "postgres", "postgresql":
		pg, err := postgresql.NewPersistence(ctx, logger, databaseURL, statementTimeout)
		if err != nil {
			return nil, err
		}

		ledger = pg
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q, expected one of %s",
			provider, strings.Join(supportedPersistenceProviders, ", "))
	}

	if flowsDir != "" {
		return file.NewPersistence(flowsDir, ledger), nil
	}

	return ledger, nil
}

func parsePersistenceProvider(databaseURL string) string {
	provider, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return ""
	}

	return provider
}
