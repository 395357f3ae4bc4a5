package cli

import (
	"errors"
	"io/fs"

	"gravityyaml/internal/model"
)

// Exit codes returned by Execute.
const (
	ExitOK       = 0
	ExitFailure  = 1
	ExitDatabase = 2
	ExitDocument = 3
	ExitFile     = 4
)

// ExitCode maps an error to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case model.IsKind(err, model.KindStoreUnavailable),
		model.IsKind(err, model.KindSchemaMismatch),
		model.IsKind(err, model.KindPartialWriteRefused):
		return ExitDatabase
	case model.IsKind(err, model.KindMalformedDocument),
		model.IsKind(err, model.KindIntegrityViolation):
		return ExitDocument
	}

	var pathErr *fs.PathError
	if errors.Is(err, fs.ErrNotExist) || errors.As(err, &pathErr) {
		return ExitFile
	}
	return ExitFailure
}
