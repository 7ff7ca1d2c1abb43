package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/db"
)

// maxIDAttempts bounds patient id synthesis when a generated id collides.
const maxIDAttempts = 5

// Workflow owns the booking state machine and turns approved bookings into
// patient records.
type Workflow struct {
	bookings BookingRepository
	ward     *ward.Manager
	tx       db.TxManager
	logger   zerolog.Logger
	now      func() time.Time
	newID    func() string
}

func NewWorkflow(bookings BookingRepository, wm *ward.Manager, tx db.TxManager, logger zerolog.Logger) *Workflow {
	return &Workflow{
		bookings: bookings,
		ward:     wm,
		tx:       tx,
		logger:   logger.With().Str("component", "intake").Logger(),
		now:      time.Now,
		newID:    ward.NewPatientID,
	}
}

// Approval is the outcome of ApproveBooking.
type Approval struct {
	Booking *Booking      `json:"booking"`
	Patient *ward.Patient `json:"patient"`
	// Skipped lists requested assignments that could not be honoured.
	Skipped []string `json:"skipped,omitempty"`
}

// CreateBooking validates required fields and stores the booking as PENDING.
func (w *Workflow) CreateBooking(ctx context.Context, b *Booking) error {
	b.PatientName = strings.TrimSpace(b.PatientName)
	b.ContactNumber = strings.TrimSpace(b.ContactNumber)
	b.Symptoms = strings.TrimSpace(b.Symptoms)

	switch {
	case b.PatientName == "":
		return fmt.Errorf("%w: patient name is required", ErrInvalid)
	case b.ContactNumber == "":
		return fmt.Errorf("%w: contact number is required", ErrInvalid)
	case b.Symptoms == "":
		return fmt.Errorf("%w: symptoms are required", ErrInvalid)
	case !validGenders[b.Gender]:
		return fmt.Errorf("%w: gender must be Male, Female or Other", ErrInvalid)
	case b.Age < 0 || b.Age > 150:
		return fmt.Errorf("%w: age must be between 0 and 150", ErrInvalid)
	}

	b.RequestedDoctorID = normalizeRef(b.RequestedDoctorID)
	b.RequestedRoomID = normalizeRef(b.RequestedRoomID)
	b.Status = StatusPending
	b.PatientID = nil
	b.DecidedAt = nil

	if err := w.bookings.Create(ctx, b); err != nil {
		return fmt.Errorf("create booking: %w", err)
	}
	w.logger.Info().Int64("booking_id", b.BookingID).Msg("booking created")
	return nil
}

func normalizeRef(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ApproveBooking materializes the booking into a new patient, applies the
// requested doctor/room when still possible and marks the booking APPROVED.
// Everything runs in one transaction: on failure the booking stays PENDING
// and no patient is left behind, so a retry cannot duplicate the patient.
func (w *Workflow) ApproveBooking(ctx context.Context, id int64) (*Approval, error) {
	var out *Approval
	err := w.tx.WithTx(ctx, func(ctx context.Context) error {
		b, err := w.bookings.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if b.Final() {
			return fmt.Errorf("booking %d is %s: %w", id, b.Status, ErrBookingFinalized)
		}

		patientID, err := w.synthesizePatientID(ctx)
		if err != nil {
			return err
		}
		admitted := w.now()
		p := &ward.Patient{
			PatientID:      patientID,
			Name:           b.PatientName,
			Age:            b.Age,
			MedicalHistory: b.MedicalHistory(),
			AdmissionDate:  &admitted,
		}
		if err := w.ward.CreatePatient(ctx, p); err != nil {
			return fmt.Errorf("create patient for booking %d: %w", id, err)
		}

		approval := &Approval{Booking: b, Patient: p}
		if err := w.applyRequests(ctx, b, approval); err != nil {
			return err
		}

		ok, err := w.bookings.Decide(ctx, id, StatusApproved, &patientID, admitted)
		if err != nil {
			return fmt.Errorf("mark booking %d approved: %w", id, err)
		}
		if !ok {
			return fmt.Errorf("booking %d: %w", id, ErrBookingFinalized)
		}
		b.Status = StatusApproved
		b.PatientID = &patientID
		b.DecidedAt = &admitted
		out = approval
		return nil
	})
	if err != nil {
		return nil, err
	}

	w.logger.Info().
		Int64("booking_id", id).
		Str("patient_id", out.Patient.PatientID).
		Strs("skipped", out.Skipped).
		Msg("booking approved")
	return out, nil
}

// applyRequests honours the booking's doctor/room preferences. Entities that
// vanished, or a room taken in the meantime, are skipped rather than failing
// the approval. Each assignment runs under its own savepoint so a constraint
// violation on a skipped request leaves the approval transaction intact.
func (w *Workflow) applyRequests(ctx context.Context, b *Booking, a *Approval) error {
	pid := a.Patient.PatientID

	if b.RequestedDoctorID != nil {
		err := db.Savepoint(ctx, func(ctx context.Context) error {
			return w.ward.AssignPatientToDoctor(ctx, pid, *b.RequestedDoctorID)
		})
		switch {
		case err == nil:
			a.Patient.DoctorID = b.RequestedDoctorID
		case errors.Is(err, ward.ErrDoctorNotFound):
			a.Skipped = append(a.Skipped, "doctor "+*b.RequestedDoctorID+" no longer exists")
		default:
			return err
		}
	}

	if b.RequestedRoomID != nil {
		err := db.Savepoint(ctx, func(ctx context.Context) error {
			return w.ward.AssignPatientToRoom(ctx, pid, *b.RequestedRoomID)
		})
		switch {
		case err == nil:
			a.Patient.RoomID = b.RequestedRoomID
		case errors.Is(err, ward.ErrRoomNotFound):
			a.Skipped = append(a.Skipped, "room "+*b.RequestedRoomID+" no longer exists")
		case errors.Is(err, ward.ErrRoomOccupied):
			a.Skipped = append(a.Skipped, "room "+*b.RequestedRoomID+" is occupied")
		default:
			return err
		}
	}
	return nil
}

func (w *Workflow) synthesizePatientID(ctx context.Context) (string, error) {
	for i := 0; i < maxIDAttempts; i++ {
		id := w.newID()
		exists, err := w.ward.PatientExists(ctx, id)
		if err != nil {
			return "", fmt.Errorf("check patient id: %w", err)
		}
		if !exists {
			return id, nil
		}
	}
	return "", fmt.Errorf("could not synthesize a unique patient id after %d attempts", maxIDAttempts)
}

// RejectBooking moves a PENDING booking to REJECTED. No other entity changes.
func (w *Workflow) RejectBooking(ctx context.Context, id int64) (*Booking, error) {
	b, err := w.bookings.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.Final() {
		return nil, fmt.Errorf("booking %d is %s: %w", id, b.Status, ErrBookingFinalized)
	}

	at := w.now()
	ok, err := w.bookings.Decide(ctx, id, StatusRejected, nil, at)
	if err != nil {
		return nil, fmt.Errorf("mark booking %d rejected: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("booking %d: %w", id, ErrBookingFinalized)
	}
	b.Status = StatusRejected
	b.DecidedAt = &at

	w.logger.Info().Int64("booking_id", id).Msg("booking rejected")
	return b, nil
}

func (w *Workflow) GetBooking(ctx context.Context, id int64) (*Booking, error) {
	return w.bookings.GetByID(ctx, id)
}

func (w *Workflow) ListBookings(ctx context.Context, status string, limit, offset int) ([]*Booking, int, error) {
	if status != "" && !ValidStatus(status) {
		return nil, 0, fmt.Errorf("%w: unknown status %q", ErrInvalid, status)
	}
	return w.bookings.List(ctx, status, limit, offset)
}

func (w *Workflow) CountByStatus(ctx context.Context) (map[string]int, error) {
	return w.bookings.CountByStatus(ctx)
}
