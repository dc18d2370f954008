package domain

import "time"

// CompileEvent describes a finished compile that produced a bundle file.
type CompileEvent struct {
	ID         string       `json:"id"`
	Dataset    string       `json:"dataset"`
	OutputPath string       `json:"output_path"`
	Format     string       `json:"format"`
	Variables  []string     `json:"variables"`
	StartYear  int          `json:"start_year"`
	EndYear    int          `json:"end_year"`
	Region     *BoundingBox `json:"region,omitempty"`
	Steps      int          `json:"steps"`
	FirstIdx   int          `json:"first_idx"`
	LastIdx    int          `json:"last_idx"`
	Duration   float64      `json:"duration_seconds"`
	FinishedAt time.Time    `json:"finished_at"`
}
