package errors

import "fmt"

// Kind is the closure of error kinds from spec §7. Every error the core
// surfaces to a caller carries exactly one Kind, following the same
// TypedError-with-enum shape the teacher project uses in
// internal/common/errors/error_types.go.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindAlreadyExists
	KindNotADirectory
	KindIsADirectory
	KindDirectoryNotEmpty
	KindCrossDeviceLink
	KindLoopDetected
	KindInvalidArgument
	KindCancelled
	KindTimeout
	KindCheckoutInProgress
	KindOutOfDateParent
	KindMountGenerationChanged
	KindJournalTruncated
	KindBacking
	KindOverlay
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindNotADirectory:
		return "NotADirectory"
	case KindIsADirectory:
		return "IsADirectory"
	case KindDirectoryNotEmpty:
		return "DirectoryNotEmpty"
	case KindCrossDeviceLink:
		return "CrossDeviceLink"
	case KindLoopDetected:
		return "LoopDetected"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindCancelled:
		return "Cancelled"
	case KindTimeout:
		return "Timeout"
	case KindCheckoutInProgress:
		return "CheckoutInProgress"
	case KindOutOfDateParent:
		return "OutOfDateParent"
	case KindMountGenerationChanged:
		return "MountGenerationChanged"
	case KindJournalTruncated:
		return "JournalTruncated"
	case KindBacking:
		return "Backing"
	case KindOverlay:
		return "Overlay"
	case KindInternal:
		return "Internal"
	default:
		return "Unknown"
	}
}

// EdenError is the concrete type behind every Kind. Extra fields used by
// only a couple of kinds (BlockerPID, Requested/Actual) are attached
// directly rather than through a generic map so callers can retrieve them
// with a single errors.As.
type EdenError struct {
	Kind    Kind
	Message string
	Err     error

	// BlockerPID is set on KindCheckoutInProgress when the blocking pid was
	// discoverable from the overlay lock file.
	BlockerPID int

	// Requested/Actual are set on KindOutOfDateParent.
	Requested string
	Actual    string
}

func (e *EdenError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *EdenError) Unwrap() error { return e.Err }

func newErr(kind Kind, message string, err error) error {
	return &EdenError{Kind: kind, Message: message, Err: err}
}

func NewNotFound(message string, err error) error     { return newErr(KindNotFound, message, err) }
func NewAlreadyExists(message string, err error) error { return newErr(KindAlreadyExists, message, err) }
func NewNotADirectory(message string) error            { return newErr(KindNotADirectory, message, nil) }
func NewIsADirectory(message string) error              { return newErr(KindIsADirectory, message, nil) }
func NewDirectoryNotEmpty(message string) error         { return newErr(KindDirectoryNotEmpty, message, nil) }
func NewCrossDeviceLink(message string) error           { return newErr(KindCrossDeviceLink, message, nil) }
func NewLoopDetected(message string) error              { return newErr(KindLoopDetected, message, nil) }
func NewInvalidArgument(message string) error           { return newErr(KindInvalidArgument, message, nil) }
func NewCancelled(message string) error                 { return newErr(KindCancelled, message, nil) }
func NewTimeout(message string) error                   { return newErr(KindTimeout, message, nil) }
func NewJournalTruncated(message string) error          { return newErr(KindJournalTruncated, message, nil) }
func NewBacking(message string, err error) error        { return newErr(KindBacking, message, err) }
func NewOverlay(message string, err error) error        { return newErr(KindOverlay, message, err) }
func NewInternal(message string, err error) error       { return newErr(KindInternal, message, err) }
func NewMountGenerationChanged(message string) error {
	return newErr(KindMountGenerationChanged, message, nil)
}

// NewCheckoutInProgress reports that another checkout holds the parents
// lock; blockerPID is 0 when the holder's pid could not be determined.
func NewCheckoutInProgress(blockerPID int) error {
	return &EdenError{Kind: KindCheckoutInProgress, Message: "checkout already in progress", BlockerPID: blockerPID}
}

// NewOutOfDateParent reports that a diff observed a parent-commit mismatch
// while enforce_current_parent was set.
func NewOutOfDateParent(requested, actual string) error {
	return &EdenError{Kind: KindOutOfDateParent, Message: "working copy parent is out of date", Requested: requested, Actual: actual}
}

// KindOf returns KindUnknown for any error not produced by this package,
// letting callers branch on kind without a type assertion at every site.
func KindOf(err error) Kind {
	var ee *EdenError
	if As(err, &ee) {
		return ee.Kind
	}
	return KindUnknown
}
