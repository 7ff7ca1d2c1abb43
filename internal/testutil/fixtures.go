package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/intake"
	"github.com/hms/hms/internal/domain/ward"
)

// NewManager wires a ward.Manager over s with a silent logger.
func NewManager(s *Store) *ward.Manager {
	return ward.NewManager(s.Patients(), s.Doctors(), s.Rooms(), s.History(), s, zerolog.Nop())
}

// NewWorkflow wires an intake.Workflow over s.
func NewWorkflow(s *Store, wm *ward.Manager) *intake.Workflow {
	return intake.NewWorkflow(s.Bookings(), wm, s, zerolog.Nop())
}

// Date returns midnight UTC of the given day.
func Date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// SeedRoom creates a room or fails the test.
func SeedRoom(t testing.TB, s *Store, id, roomType string) {
	t.Helper()
	if err := s.Rooms().Create(context.Background(), &ward.Room{RoomID: id, RoomType: roomType}); err != nil {
		t.Fatalf("seed room %s: %v", id, err)
	}
}

// SeedDoctor creates a doctor or fails the test.
func SeedDoctor(t testing.TB, s *Store, id, name string) {
	t.Helper()
	if err := s.Doctors().Create(context.Background(), &ward.Doctor{DoctorID: id, Name: name, Specialization: "General"}); err != nil {
		t.Fatalf("seed doctor %s: %v", id, err)
	}
}

// SeedPatient creates a patient admitted on admitted (nil means now).
func SeedPatient(t testing.TB, s *Store, id, name string, admitted *time.Time) {
	t.Helper()
	p := &ward.Patient{PatientID: id, Name: name, Age: 40, AdmissionDate: admitted}
	if err := s.Patients().Create(context.Background(), p); err != nil {
		t.Fatalf("seed patient %s: %v", id, err)
	}
}
