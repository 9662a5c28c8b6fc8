package ingest

import (
	"path/filepath"

	"github.com/go-sif/cassdl"
	"github.com/gofrs/uuid"
)

// Namespace is the UUIDv5 namespace of ingested row ids
var Namespace = uuid.NewV5(uuid.NamespaceURL, "https://github.com/go-sif/cassdl/rows")

// Job is a single file to ingest, along with the metadata to store beside it
type Job struct {
	ID    cassdl.RowID
	Path  string
	Label int
	Group string
	Tag   string
}

// RowIDForPath derives a stable row id from a file's path relative to the ingestion root, so
// that ingesting the same tree twice overwrites rows rather than duplicating them
func RowIDForPath(root string, path string) cassdl.RowID {
	rel, err := filepath.Rel(root, path)
	if err != nil || root == "" {
		rel = path
	}
	return uuid.NewV5(Namespace, filepath.ToSlash(filepath.Clean(rel))).String()
}

// NewJob creates a Job for a file under root
func NewJob(root string, path string, label int) Job {
	return Job{ID: RowIDForPath(root, path), Path: path, Label: label}
}
