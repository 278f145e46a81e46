package models

import "time"

// ImportStatus is the lifecycle state of a prospect import.
type ImportStatus string

const (
	ImportStatusPending   ImportStatus = "pending"
	ImportStatusRunning   ImportStatus = "running"
	ImportStatusCompleted ImportStatus = "completed"
	ImportStatusFailed    ImportStatus = "failed"
)

// RowError describes why a row was rejected.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportProgress is the checkpoint persisted after each chunk.
type ImportProgress struct {
	LastProcessedRow int        `json:"last_processed_row"`
	Succeeded        int        `json:"succeeded"`
	Failed           int        `json:"failed"`
	MissingEmail     int        `json:"missing_email"`
	MissingPhone     int        `json:"missing_phone"`
	Errors           []RowError `json:"errors,omitempty"`
}

// ImportResult summarizes a finished import.
type ImportResult struct {
	TotalRows       int           `json:"total_rows"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	MissingEmail    int           `json:"missing_email"`
	MissingPhone    int           `json:"missing_phone"`
	SuccessRate     float64       `json:"success_rate"`
	Throughput      float64       `json:"throughput"`
	PeakMemoryBytes uint64        `json:"peak_memory_bytes"`
	Duration        time.Duration `json:"duration"`
	Status          ImportStatus  `json:"status"`
	Errors          []RowError    `json:"errors,omitempty"`
}

// ImportStatusFor classifies a finished run: failed only when nothing succeeded and something failed.
func ImportStatusFor(succeeded, failed int) ImportStatus {
	if succeeded == 0 && failed > 0 {
		return ImportStatusFailed
	}

	return ImportStatusCompleted
}

// ImportRecord tracks one import of a prospect file.
type ImportRecord struct {
	ID         string          `json:"id"`
	FilePath   string          `json:"file_path"`
	Status     ImportStatus    `json:"status"`
	Checkpoint *ImportProgress `json:"checkpoint,omitempty"`
	Result     *ImportResult   `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
