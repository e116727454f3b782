package plugin

import (
	"errors"
	"fmt"
)

// Error kinds, per spec.md section 7. Each is a distinct sentinel so
// callers can errors.Is against it regardless of the wrapped detail
// message, matching the teacher's plain fmt.Errorf("%w: ...") style
// rather than a custom error-code framework.
var (
	ErrConfigError            = errors.New("groupcert: config error")
	ErrAlreadyRunning         = errors.New("groupcert: already running")
	ErrApplierInitError       = errors.New("groupcert: applier init error")
	ErrPipelineError          = errors.New("groupcert: pipeline error")
	ErrCertifierNotInitialized = errors.New("groupcert: certifier not initialized")
	ErrDonorConnectError      = errors.New("groupcert: donor connect error")
	ErrDonorDisappeared       = errors.New("groupcert: donor disappeared")
	ErrRelayLogInitError      = errors.New("groupcert: relay log init error")
	ErrRetriesExhausted       = errors.New("groupcert: retries exhausted")
	ErrTimeout                = errors.New("groupcert: timeout")
	ErrGcsJoinError           = errors.New("groupcert: gcs join error")
	ErrEncodingError          = errors.New("groupcert: encoding error")
	ErrSnapshotError          = errors.New("groupcert: snapshot persistence error")
)

// Errorf wraps kind with a formatted detail message, preserving
// errors.Is(err, kind).
func Errorf(kind error, format string, a ...any) error {
	return fmt.Errorf("%w: %s", kind, fmt.Sprintf(format, a...))
}

// PanicOn panics with err if it is non-nil, mirroring the teacher's
// sparing use of panic for "this should be impossible" invariants rather
// than everyday error handling. No code in this module calls it.
func PanicOn(err error) {
	if err != nil {
		panic(err)
	}
}
