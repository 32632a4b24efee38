package index

import (
	"errors"
	"time"
)

// Document names of the two index tiers.
const (
	SummariesDoc = "summaries"
	DetailsDoc   = "details"
)

// ErrNotFound is returned by Backend.Read when a document has never
// been written.
var ErrNotFound = errors.New("index document not found")

// Document is one persisted index tier as stored by a Backend. Body
// is the encoded {version, files, savedAt} object.
type Document struct {
	Name    string
	Version string
	Body    []byte
	SavedAt time.Time
}

// Backend persists index documents. Write replaces every given
// document as a unit; a failed Write leaves the previous documents
// readable.
type Backend interface {
	Read(name string) (Document, error)
	Write(docs ...Document) error
	Remove(names ...string) error
	Close() error
}
