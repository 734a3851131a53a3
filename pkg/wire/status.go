package wire

import "fmt"

// Status is the outcome code carried by a StatusReport or NOCResponse.
type Status uint8

const (
	StatusSuccess            Status = 0
	StatusFailure            Status = 1
	StatusInvalidParameter   Status = 2
	StatusBusy               Status = 3
	StatusUnsupported        Status = 4
	StatusInvalidCommand     Status = 5
	StatusFailSafeRequired   Status = 6
	StatusFailSafeBusy       Status = 7
	StatusInvalidCertificate Status = 8
	StatusInvalidPasscode    Status = 9
	StatusTableFull          Status = 10
	StatusTimeout            Status = 11
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusFailure:
		return "FAILURE"
	case StatusInvalidParameter:
		return "INVALID_PARAMETER"
	case StatusBusy:
		return "BUSY"
	case StatusUnsupported:
		return "UNSUPPORTED"
	case StatusInvalidCommand:
		return "INVALID_COMMAND"
	case StatusFailSafeRequired:
		return "FAILSAFE_REQUIRED"
	case StatusFailSafeBusy:
		return "FAILSAFE_BUSY"
	case StatusInvalidCertificate:
		return "INVALID_CERTIFICATE"
	case StatusInvalidPasscode:
		return "INVALID_PASSCODE"
	case StatusTableFull:
		return "TABLE_FULL"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return fmt.Sprintf("STATUS(%d)", uint8(s))
	}
}

// IsSuccess returns true if the status indicates success.
func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

// StatusError is returned when a peer reports a non-success status.
type StatusError struct {
	Status  Status
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return "peer reported " + e.Status.String()
	}
	return fmt.Sprintf("peer reported %s: %s", e.Status, e.Message)
}
