package models

import "time"

// Export kinds and formats.
const (
	ExportKindRoster = "roster"
	ExportKindGrades = "grades"

	ExportFormatCSV = "csv"
	ExportFormatPDF = "pdf"
)

// ExportRequest asks for a course report.
type ExportRequest struct {
	Kind   string `json:"kind" validate:"required,oneof=roster grades"`
	Format string `json:"format" validate:"required,oneof=csv pdf"`
}

// ExportResult points at a generated report.
type ExportResult struct {
	ID        string    `json:"id"`
	FileName  string    `json:"file_name"`
	Token     string    `json:"token"`
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ExportFile is an opened report ready to stream.
type ExportFile struct {
	Path        string
	FileName    string
	ContentType string
	Size        int64
}
