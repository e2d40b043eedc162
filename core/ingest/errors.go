package ingest

import "fmt"

// Stage names the store a write failed against.
type Stage string

const (
	StageBlob     Stage = "blob"
	StageMetadata Stage = "metadata"
)

// StoreError is a failed store write. A blob-stage error aborts one unit; a
// metadata-stage error aborts the whole request after the compensating delete.
type StoreError struct {
	Stage Stage
	Key   string
	Err   error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s store write %s: %v", e.Stage, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }
