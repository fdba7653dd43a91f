package rag

import "fmt"

// Ingestion stages reported by IngestionError.
const (
	StageLoad  = "load"
	StageSplit = "split"
	StageEmbed = "embed"
	StageIndex = "index"
)

// IngestionError reports a failed document ingestion. No partial index is
// produced when it is returned.
type IngestionError struct {
	Source string
	Stage  string
	Err    error
}

func (e *IngestionError) Error() string {
	return fmt.Sprintf("ingest %s: %s: %v", e.Source, e.Stage, e.Err)
}

func (e *IngestionError) Unwrap() error { return e.Err }
