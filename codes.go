package iceberg

import "github.com/lakeformat/iceberg/pkg/errors"

// Error kinds shared by every layer (table, catalog, io, view): each maps
// directly onto one of the package's own pkg/errors.Common* codes so a
// caller can branch on kind with errors.CodeOf/errors.Is without needing to
// know which package actually raised the error.
var (
	ErrInvalidMetadata   = errors.CommonInvalidMetadata
	ErrSchemaMismatch    = errors.CommonSchemaMismatch
	ErrIOFailure         = errors.CommonIOFailure
	ErrCommitConflict    = errors.CommonCommitConflict
	ErrValidationFailure = errors.CommonValidationFailure
	ErrNotFound          = errors.CommonNotFound
	ErrUnsupported       = errors.CommonUnsupported
	ErrAlreadyExists     = errors.CommonAlreadyExists
)
