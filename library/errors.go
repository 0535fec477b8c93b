package library

import (
	"errors"
	"fmt"
)

// Failure classes surfaced by the core. Callers match them with errors.Is;
// the wrapped message carries the entity kind and id.
var (
	ErrNotFound            = errors.New("not found")
	ErrDuplicateID         = errors.New("duplicate id")
	ErrReferencedEntity    = errors.New("referenced by an open borrow record")
	ErrItemUnavailable     = errors.New("item is not available")
	ErrBorrowLimitExceeded = errors.New("borrow limit reached")
	ErrAlreadyReturned     = errors.New("already returned")
	ErrMalformedXML        = errors.New("malformed xml")
	ErrInvalidEntity       = errors.New("invalid entity")
	ErrSameCollection      = errors.New("source and target are the same library")
	ErrInvalidLibraryID    = errors.New("invalid library id")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidEntity, fmt.Sprintf(format, args...))
}

func malformedf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformedXML, fmt.Sprintf(format, args...))
}

func notFound(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrNotFound, kind, id)
}

func duplicate(kind, id string) error {
	return fmt.Errorf("%w: %s %q", ErrDuplicateID, kind, id)
}

// Reason maps err onto a short label for metrics and logs.
func Reason(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrDuplicateID):
		return "duplicate_id"
	case errors.Is(err, ErrReferencedEntity):
		return "referenced"
	case errors.Is(err, ErrItemUnavailable):
		return "unavailable"
	case errors.Is(err, ErrBorrowLimitExceeded):
		return "limit_exceeded"
	case errors.Is(err, ErrAlreadyReturned):
		return "already_returned"
	case errors.Is(err, ErrMalformedXML):
		return "malformed_xml"
	case errors.Is(err, ErrInvalidEntity):
		return "invalid_entity"
	case errors.Is(err, ErrSameCollection):
		return "same_collection"
	case errors.Is(err, ErrInvalidLibraryID):
		return "invalid_library"
	default:
		return "internal"
	}
}

// IsDomainError reports whether err is one of the recoverable core failures
// rather than a storage or I/O problem.
func IsDomainError(err error) bool {
	r := Reason(err)
	return r != "ok" && r != "internal"
}

func referenced(kind, id string, open int) error {
	return fmt.Errorf("%w: %s %q (%d open)", ErrReferencedEntity, kind, id, open)
}

func isInvalid(err error) bool { return errors.Is(err, ErrInvalidEntity) }
