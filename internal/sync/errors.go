package sync

import (
	"errors"
	"fmt"

	"github.com/schaermu/wikisync/internal/site"
)

// ErrStateNotPersisted is returned when the run finished but the final sync
// map could not be written. The next run will upload changed files again.
var ErrStateNotPersisted = errors.New("sync map not persisted")

// FileError is a failure confined to a single document. The engine logs it,
// skips the file and continues with the next one. Any error that is not a
// FileError ends the run.
type FileError struct {
	Category site.Category
	Path     string
	Op       string
	Err      error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Category, e.Path, e.Op, e.Err)
}

func (e *FileError) Unwrap() error {
	return e.Err
}

// IsFileError reports whether err only affects a single file
func IsFileError(err error) bool {
	var fe *FileError
	return errors.As(err, &fe)
}

func fileError(f site.File, op string, err error) *FileError {
	return &FileError{Category: f.Category, Path: f.RelPath, Op: op, Err: err}
}
