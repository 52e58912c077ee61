package interfaces

import (
	"errors"
	"fmt"
)

// ErrorKind classifies coordinator failures. The request layer maps kinds to
// response statuses.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindAuthentication
	KindAuthorization
	KindStateConflict
	KindNotFound
	KindVerification
	KindStorage
)

func (k ErrorKind) String() string {
	switch k {
	case KindAuthentication:
		return "authentication"
	case KindAuthorization:
		return "authorization"
	case KindStateConflict:
		return "state conflict"
	case KindNotFound:
		return "not found"
	case KindVerification:
		return "verification"
	case KindStorage:
		return "storage"
	default:
		return "internal"
	}
}

// CoordinatorError attaches an ErrorKind to an underlying error.
type CoordinatorError struct {
	Kind ErrorKind
	Err  error
}

func (e *CoordinatorError) Error() string {
	return e.Err.Error()
}

func (e *CoordinatorError) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, err error) error {
	if err == nil {
		return nil
	}
	return &CoordinatorError{Kind: kind, Err: err}
}

// Errorf wraps a formatted error with the given kind.
func Errorf(kind ErrorKind, format string, args ...any) error {
	return &CoordinatorError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the kind of the outermost CoordinatorError in err's chain.
// Errors carrying no kind are internal.
func KindOf(err error) ErrorKind {
	var cerr *CoordinatorError
	if errors.As(err, &cerr) {
		return cerr.Kind
	}
	return KindInternal
}

var (
	ErrParticipantAlreadyAdded     = errors.New("participant already added")
	ErrUnknownContributor          = errors.New("unknown contributor")
	ErrParticipantNotCurrent       = errors.New("participant is not a current contributor")
	ErrNoPendingTasks              = errors.New("participant has no pending tasks")
	ErrChunkLocked                 = errors.New("chunk is locked by another participant")
	ErrChunkNotLocked              = errors.New("chunk is not locked by the participant")
	ErrChunkNotReady               = errors.New("chunk has no verified contribution to build on")
	ErrUnauthorizedRelease         = errors.New("lock is not held by the participant")
	ErrUnknownTask                 = errors.New("unknown task")
	ErrLocatorMismatch             = errors.New("locator does not match the locked task")
	ErrContributionAlreadyVerified = errors.New("contribution already verified")
	ErrContributionAlreadyUploaded = errors.New("contribution already uploaded")
	ErrContributionMissing         = errors.New("contribution has not been uploaded")
	ErrContributionSizeMismatch    = errors.New("contribution has unexpected size")
	ErrInvalidFileSignature        = errors.New("invalid contribution file signature")
	ErrHashMismatch                = errors.New("transcript hash mismatch")
	ErrVerificationFailed          = errors.New("contribution verification failed")
	ErrStaleVerification           = errors.New("verification does not apply to the latest contribution")
	ErrInitializationMismatch      = errors.New("initial challenge does not match the stored transcript")
	ErrCopyMismatch                = errors.New("copied transcript does not match the source")
	ErrRoundNotComplete            = errors.New("round is not complete")
	ErrCoordinatorStopped          = errors.New("coordinator is stopped")
	ErrNotFound                    = errors.New("object not found")
	ErrVerifierCannotContribute    = errors.New("coordinator verifier cannot join as contributor")
)
