package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/outflow/outflow/pkg/models"
)

const prospectInsertColumns = 9

// ProspectRepository handles prospect rows keyed by identifier.
type ProspectRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewProspectRepository creates a new prospect repository.
func NewProspectRepository(db *sql.DB, logger *slog.Logger) *ProspectRepository {
	return &ProspectRepository{db: db, logger: logger}
}

// UpsertProspects writes one chunk in a single statement. Later rows win when a
// chunk repeats an identifier.
func (pr *ProspectRepository) UpsertProspects(ctx context.Context, prospects []*models.Prospect) error {
	unique := dedupeProspects(prospects)
	if len(unique) == 0 {
		return nil
	}

	now := time.Now().UTC()
	placeholders := make([]string, 0, len(unique))
	args := make([]any, 0, len(unique)*prospectInsertColumns)

	for i, prospect := range unique {
		id := prospect.ID
		if id == "" {
			id = models.ProspectID(prospect.Identifier)
		}

		base := i * prospectInsertColumns
		placeholders = append(placeholders, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))

		args = append(args,
			id,
			prospect.Identifier,
			prospect.Name,
			nullString(prospect.Email),
			nullString(prospect.Phone),
			nullFloat(prospect.Amount),
			nullString(prospect.ImportID),
			now,
			now,
		)
	}

	query := `
		INSERT INTO prospects (id, identifier, name, email, phone, amount, import_id, created_at, updated_at)
		VALUES ` + strings.Join(placeholders, ", ") + `
		ON CONFLICT (identifier) DO UPDATE SET
			name = EXCLUDED.name,
			email = EXCLUDED.email,
			phone = EXCLUDED.phone,
			amount = EXCLUDED.amount,
			import_id = EXCLUDED.import_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := pr.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to upsert prospects: %w", err)
	}

	return nil
}

func (pr *ProspectRepository) ProspectsByIDs(ctx context.Context, ids []string) ([]*models.Prospect, error) {
	if len(ids) == 0 {
		return []*models.Prospect{}, nil
	}

	rows, err := pr.db.QueryContext(ctx, `
		SELECT id, identifier, name, email, phone, amount, import_id, created_at, updated_at
		FROM prospects
		WHERE id = ANY($1)
		ORDER BY identifier`, pq.Array(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to query prospects: %w", err)
	}

	defer closeRows(ctx, pr.logger, rows)

	prospects := make([]*models.Prospect, 0, len(ids))

	for rows.Next() {
		var (
			prospect models.Prospect
			email    sql.NullString
			phone    sql.NullString
			amount   sql.NullFloat64
			importID sql.NullString
		)

		err := rows.Scan(
			&prospect.ID,
			&prospect.Identifier,
			&prospect.Name,
			&email,
			&phone,
			&amount,
			&importID,
			&prospect.CreatedAt,
			&prospect.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prospect: %w", err)
		}

		prospect.Email = email.String
		prospect.Phone = phone.String
		prospect.ImportID = importID.String

		if amount.Valid {
			value := amount.Float64
			prospect.Amount = &value
		}

		prospects = append(prospects, &prospect)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating prospects: %w", err)
	}

	return prospects, nil
}

func dedupeProspects(prospects []*models.Prospect) []*models.Prospect {
	index := make(map[string]int, len(prospects))
	unique := make([]*models.Prospect, 0, len(prospects))

	for _, prospect := range prospects {
		key := strings.ToLower(strings.TrimSpace(prospect.Identifier))
		if position, seen := index[key]; seen {
			unique[position] = prospect

			continue
		}

		index[key] = len(unique)
		unique = append(unique, prospect)
	}

	return unique
}
