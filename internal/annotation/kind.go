package annotation

import "fmt"

// Kind identifies what an annotation is for.
type Kind string

// Annotation kinds.
const (
	KindNote       Kind = "note"
	KindDiagnostic Kind = "diagnostic"
	KindHighlight  Kind = "highlight"
	KindGreyout    Kind = "greyout"
	KindRead       Kind = "read"
)

// Kinds returns every kind in a stable order.
func Kinds() []Kind {
	return []Kind{KindNote, KindDiagnostic, KindHighlight, KindGreyout, KindRead}
}

// ParseKind converts a string to a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// IsValid returns true for the known kinds.
func (k Kind) IsValid() bool {
	switch k {
	case KindNote, KindDiagnostic, KindHighlight, KindGreyout, KindRead:
		return true
	}
	return false
}

// Tool returns the blob store key the kind is persisted under.
func (k Kind) Tool() string {
	switch k {
	case KindNote:
		return "stickyNotes"
	case KindDiagnostic:
		return "diagnostics"
	case KindHighlight:
		return "highlights"
	case KindGreyout:
		return "greyouts"
	case KindRead:
		return "readTracking"
	default:
		return ""
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}
