// Package file stores flow definitions as JSON documents in a directory. Run state
// is delegated to another ledger.
package file

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/outflow/outflow/pkg/persistence"
)

// Persistence serves flows from the file system and everything else from ledger.
type Persistence struct {
	persistence.Persistence

	root     string
	flowRepo *FlowRepository
}

// NewPersistence creates a Persistence rooted at root, which may carry a file:// prefix.
func NewPersistence(root string, ledger persistence.Persistence) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		Persistence: ledger,
		root:        cleanRoot,
		flowRepo:    NewFlowRepository(cleanRoot),
	}
}

func (fp *Persistence) FlowRepository() persistence.FlowRepository {
	return fp.flowRepo
}

// HealthCheck verifies the root directory exists and the ledger is healthy.
func (fp *Persistence) HealthCheck(ctx context.Context) error {
	if _, err := os.Stat(fp.root); err != nil {
		return fmt.Errorf("flow directory unavailable: %w", err)
	}

	return fp.Persistence.HealthCheck(ctx)
}
