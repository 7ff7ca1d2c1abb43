package intake

import (
	"time"
)

// Booking statuses. PENDING is the only non-terminal state.
const (
	StatusPending  = "PENDING"
	StatusApproved = "APPROVED"
	StatusRejected = "REJECTED"
)

var validStatuses = map[string]bool{
	StatusPending:  true,
	StatusApproved: true,
	StatusRejected: true,
}

// ValidStatus reports whether s is a known booking status.
func ValidStatus(s string) bool { return validStatuses[s] }

var validGenders = map[string]bool{
	"Male":   true,
	"Female": true,
	"Other":  true,
}

// Booking maps to the bookings table: an unauthenticated intake request.
type Booking struct {
	BookingID         int64      `db:"booking_id" json:"booking_id"`
	PatientName       string     `db:"patient_name" json:"patient_name"`
	Age               int        `db:"age" json:"age"`
	Gender            string     `db:"gender" json:"gender"`
	ContactNumber     string     `db:"contact_number" json:"contact_number"`
	Symptoms          string     `db:"symptoms" json:"symptoms"`
	RequestedDoctorID *string    `db:"doctor_id" json:"requested_doctor_id,omitempty"`
	RequestedRoomID   *string    `db:"room_id" json:"requested_room_id,omitempty"`
	Status            string     `db:"status" json:"status"`
	BookingDate       time.Time  `db:"booking_date" json:"booking_date"`
	PatientID         *string    `db:"patient_id" json:"patient_id,omitempty"`
	DecidedAt         *time.Time `db:"decided_at" json:"decided_at,omitempty"`
}

// Final reports whether the booking reached a terminal state.
func (b *Booking) Final() bool { return b.Status != StatusPending }

// MedicalHistory folds the intake fields the patient record has no column
// for into its free-text history.
func (b *Booking) MedicalHistory() string {
	return "Symptoms: " + b.Symptoms + "\nGender: " + b.Gender + "\nContact: " + b.ContactNumber
}
