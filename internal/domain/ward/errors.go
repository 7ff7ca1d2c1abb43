package ward

import "errors"

var (
	ErrPatientNotFound = errors.New("patient not found")
	ErrDoctorNotFound  = errors.New("doctor not found")
	ErrRoomNotFound    = errors.New("room not found")
	ErrRoomOccupied    = errors.New("room is already occupied")
	ErrPatientHasRoom  = errors.New("patient already has a room assigned")
	ErrDuplicateID     = errors.New("id already exists")
	ErrInvalid         = errors.New("invalid input")
)

// IsNotFound reports whether err is one of the ward not-found kinds.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrPatientNotFound) ||
		errors.Is(err, ErrDoctorNotFound) ||
		errors.Is(err, ErrRoomNotFound)
}

// IsConflict reports whether err is a precondition violation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrRoomOccupied) ||
		errors.Is(err, ErrPatientHasRoom) ||
		errors.Is(err, ErrDuplicateID)
}
