package exitcodes

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"

	"github.com/spicysparks/sparks-client/internal/bundle"
	"github.com/spicysparks/sparks-client/internal/update"
)

// Exit codes of the sparks CLI
const (
	Success = 0

	// GeneralError indicates a general/unknown error
	GeneralError = 1

	// InvalidArgs indicates invalid command-line arguments or flags
	InvalidArgs = 2

	// PreconditionFailed indicates missing configuration or an uninitialized client
	PreconditionFailed = 3

	// NetworkError indicates the update server could not be reached or refused a request
	NetworkError = 4

	// ProcessError indicates the host application could not be started or stopped
	ProcessError = 5

	// ValidationError indicates a package or a stored record failed validation
	ValidationError = 6
)

// Exit terminates the program with the given code
func Exit(code int) {
	os.Exit(code)
}

// ExitWithError prints error message to stderr and exits with the given code
func ExitWithError(code int, msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(code)
}

// CodeForError returns the exit code for err. An explicit ErrorWithCode
// wins; otherwise the bundle error kind and network errors decide.
func CodeForError(err error) int {
	if err == nil {
		return Success
	}

	var ec *ErrorWithCode
	if errors.As(err, &ec) {
		return ec.Code
	}

	switch bundle.KindOf(err) {
	case bundle.KindInvalidConfiguration, bundle.KindNotInitialized:
		return PreconditionFailed
	case bundle.KindInvalidUpdate, bundle.KindMalformedData:
		return ValidationError
	}

	var httpErr *update.HTTPError
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &httpErr) || errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return NetworkError
	}
	return GeneralError
}
