package domain

import "errors"

var (
	// Common domain errors
	ErrNotFound            = errors.New("entity not found")
	ErrAlreadyExists       = errors.New("entity already exists")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidExecContext  = errors.New("invalid executor context")
	ErrReadDatabaseRow     = errors.New("failed to read database row")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrLockNotAcquired     = errors.New("could not acquire lock")

	// Batch pipeline errors
	ErrManifestTooLarge = errors.New("manifest exceeds the batch item ceiling")
	ErrExtraction       = errors.New("archive extraction failed")
	ErrPackaging        = errors.New("output packaging failed")
	ErrPDFNotFound      = errors.New("referenced pdf not found in archive")
	ErrNotAPDF          = errors.New("file is not a valid pdf")
	ErrComposition      = errors.New("document composition failed")

	// Job lifecycle errors
	ErrJobNotCancellable = errors.New("job already reached a terminal status")
	ErrAlreadySettled    = errors.New("job billing already settled")
	ErrDownloadNotReady  = errors.New("job output is not ready for download")
	ErrDownloadExpired   = errors.New("job download link has expired")
)
