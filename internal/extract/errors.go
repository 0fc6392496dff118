package extract

import (
	"errors"
	"fmt"
)

// Sentinel kinds carried by ExtractionError.
var (
	// ErrUnsupportedFormat indicates a MIME type with no extractor.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrProtectedDocument indicates protection that survived every strategy.
	ErrProtectedDocument = errors.New("document is protected")
	// ErrParseFailure indicates the document could not be parsed.
	ErrParseFailure = errors.New("document could not be parsed")
	// ErrEmptyDocument indicates the document yielded no text.
	ErrEmptyDocument = errors.New("document contains no text")
)

// Protection classifies how a PDF restricts access to its content.
type Protection string

// Protection levels.
const (
	ProtectionNone                 Protection = "none"
	ProtectionRC440                Protection = "rc4_40bit"
	ProtectionRC4128               Protection = "rc4_128bit"
	ProtectionAES128               Protection = "aes_128bit"
	ProtectionAES256               Protection = "aes_256bit"
	ProtectionEncryptedUnknown     Protection = "encrypted_unknown"
	ProtectionPermissionRestricted Protection = "permission_restricted"
)

// Encrypted reports whether p denotes an encryption dictionary rather than
// permission flags alone.
func (p Protection) Encrypted() bool {
	switch p {
	case ProtectionRC440, ProtectionRC4128, ProtectionAES128, ProtectionAES256, ProtectionEncryptedUnknown:
		return true
	default:
		return false
	}
}

// User-facing guidance for protected documents.
const (
	guidanceEncrypted = "This PDF is encrypted (%s) and its text could not be read. " +
		"Open it with its password, save an unprotected copy and upload that copy instead."
	guidanceRestricted = "This PDF restricts copying of its text. " +
		"Print it to a new PDF or export an unrestricted copy and upload that copy instead."
)

// ExtractionError is returned by Extractor.Extract. Kind is one of the
// sentinel errors above; Protection is set for ErrProtectedDocument.
type ExtractionError struct {
	Kind       error
	Protection Protection
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *ExtractionError) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Err != nil {
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	}

	return e.Kind.Error()
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *ExtractionError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

func newProtectedError(protection Protection, cause error) *ExtractionError {
	message := guidanceRestricted
	if protection.Encrypted() {
		message = fmt.Sprintf(guidanceEncrypted, protection)
	}

	return &ExtractionError{
		Kind:       ErrProtectedDocument,
		Protection: protection,
		Message:    message,
		Err:        cause,
	}
}

func newParseError(cause error) *ExtractionError {
	return &ExtractionError{Kind: ErrParseFailure, Protection: ProtectionNone, Err: cause}
}
