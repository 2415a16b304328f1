package wire

import "fmt"

// DecodeErrorKind 解码失败的类别
type DecodeErrorKind uint8

const (
	Truncated DecodeErrorKind = iota + 1
	UnknownTag
	VersionMismatch
	Malformed
)

func (k DecodeErrorKind) String() string {
	switch k {
	case Truncated:
		return "truncated"
	case UnknownTag:
		return "unknown tag"
	case VersionMismatch:
		return "version mismatch"
	case Malformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// DecodeError 解码错误；errors.Is 按 Kind 匹配
type DecodeError struct {
	Kind DecodeErrorKind
	Tag  Tag
	// Version 为 VersionMismatch 时对端的版本
	Version uint16
	Err     error
}

func (e *DecodeError) Error() string {
	switch {
	case e.Kind == VersionMismatch:
		return fmt.Sprintf("wire: version mismatch: remote %d, local %d", e.Version, Version)
	case e.Err != nil:
		return fmt.Sprintf("wire: %s (tag %d): %v", e.Kind, e.Tag, e.Err)
	default:
		return fmt.Sprintf("wire: %s (tag %d)", e.Kind, e.Tag)
	}
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is 按 Kind 匹配，便于 errors.Is(err, ErrTruncated)
func (e *DecodeError) Is(target error) bool {
	t, ok := target.(*DecodeError)
	return ok && t.Kind == e.Kind
}

var (
	ErrTruncated       = &DecodeError{Kind: Truncated}
	ErrUnknownTag      = &DecodeError{Kind: UnknownTag}
	ErrVersionMismatch = &DecodeError{Kind: VersionMismatch}
	ErrMalformed       = &DecodeError{Kind: Malformed}
)
