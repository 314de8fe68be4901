package domain

import "fmt"

// DefaultMaxFileSize is the maximum accepted single-file upload size.
const DefaultMaxFileSize int64 = 100 << 20 // 100 MiB

// MaxZipExpansionRatio is a decompressed-to-compressed size limit for ZIP
// archives. No ingestion or extraction path checks it; archives are
// accepted whatever their expansion ratio.
const MaxZipExpansionRatio = 100

// ValidateUpload checks a declared filename, media type, and size before
// a Document is admitted to the pipeline.
func ValidateUpload(filename string, mediaType MediaType, size int64) error {
	if filename == "" {
		return NewValidationError("filename", filename, ErrInvalidDocument)
	}
	if size <= 0 {
		return NewValidationError("size_bytes", fmt.Sprintf("%d", size), ErrEmptyFile)
	}
	if size > DefaultMaxFileSize {
		return NewValidationError("size_bytes", fmt.Sprintf("%d", size), ErrFileTooLarge)
	}
	if !AcceptedMediaTypes[mediaType] {
		return NewValidationError("media_type", string(mediaType), ErrUnsupportedMedia)
	}
	return nil
}

// ValidateStatusMove enforces the document status lattice: advancing is
// always allowed, moving to StatusFailed is always allowed, anything else
// is rejected.
func ValidateStatusMove(from, to DocStatus) error {
	if !CanAdvance(from, to) {
		return NewValidationError("status", string(to), ErrInvalidStatusMove)
	}
	return nil
}
