package utils

// ConstError is an immutable sentinel error usable in const blocks.
type ConstError string

func (e ConstError) Error() string {
	return string(e)
}

// Root error taxonomy. Every failure surfaced by the tool wraps exactly
// one of these so callers can classify it with errors.Is.
const (
	ErrConfig       = ConstError("config error")
	ErrConnection   = ConstError("connection error")
	ErrTask         = ConstError("task error")
	ErrVerification = ConstError("verification error")
)
