package domain

import "errors"

// Classification errors returned (possibly wrapped) by managers. The
// conversion pipeline maps the first two onto a non-retryable invalid outcome
// and everything else onto a retryable error outcome.
var (
	ErrAccountNotFound   = errors.New("destination account does not exist")
	ErrNotEnoughBalance  = errors.New("not enough balance to send")
	ErrDeadAPI           = errors.New("backend API is unreachable")
	ErrIssueNotSupported = errors.New("coin cannot be issued")
)

// Invalid reports whether err marks the destination itself as unusable,
// meaning a retry with the same deposit can never succeed.
func Invalid(err error) bool {
	return errors.Is(err, ErrAccountNotFound) || errors.Is(err, ErrIssueNotSupported)
}
