package linker

import "fmt"

// ErrorKind classifies the fatal link errors. Every kind aborts the link;
// there is no soft-recovery mode and no partial output.
type ErrorKind int

const (
	ErrMalformedInput ErrorKind = iota
	ErrUndefinedSymbol
	ErrDuplicateSymbol
	ErrDuplicateGnuProperty
	ErrMissingEntryPoint
	ErrUnsupportedRelocation
)

func (k ErrorKind) String() string {
	switch k {
	case ErrMalformedInput:
		return "malformed input"
	case ErrUndefinedSymbol:
		return "undefined symbol"
	case ErrDuplicateSymbol:
		return "duplicate symbol"
	case ErrDuplicateGnuProperty:
		return "duplicate GNU property"
	case ErrMissingEntryPoint:
		return "missing entry point"
	case ErrUnsupportedRelocation:
		return "unsupported relocation"
	}
	return "unknown error"
}

type LinkError struct {
	Kind ErrorKind
	Msg  string
}

func (e *LinkError) Error() string {
	return e.Kind.String() + ": " + e.Msg
}

func errorf(kind ErrorKind, format string, args ...any) *LinkError {
	return &LinkError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}
