package privacy

// SanitizedError carries a scrubbed message for logging while keeping the
// original error reachable through Unwrap for errors.Is and errors.As.
type SanitizedError struct {
	original     error
	sanitizedMsg string
}

func (e *SanitizedError) Error() string {
	return e.sanitizedMsg
}

func (e *SanitizedError) Unwrap() error {
	return e.original
}

// WrapError scrubs the error's message with ScrubMessage. Returns nil for a
// nil error. Push provider errors echo their service URL, token included,
// which is why send failures come through here before any logging.
func WrapError(err error) error {
	if err == nil {
		return nil
	}
	return &SanitizedError{
		original:     err,
		sanitizedMsg: ScrubMessage(err.Error()),
	}
}
