package ward

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/platform/db"
)

// Manager owns the patient/doctor/room relationships and their entity CRUD.
// Derived collections (a doctor's patients, a room's occupant) are always
// re-read from the patients table.
type Manager struct {
	patients PatientRepository
	doctors  DoctorRepository
	rooms    RoomRepository
	history  HistoryRepository
	tx       db.TxManager
	logger   zerolog.Logger
	now      func() time.Time
}

func NewManager(patients PatientRepository, doctors DoctorRepository, rooms RoomRepository,
	history HistoryRepository, tx db.TxManager, logger zerolog.Logger) *Manager {
	return &Manager{
		patients: patients,
		doctors:  doctors,
		rooms:    rooms,
		history:  history,
		tx:       tx,
		logger:   logger.With().Str("component", "ward").Logger(),
		now:      time.Now,
	}
}

// SetClock replaces the time source; tests use it to pin admission dates.
func (m *Manager) SetClock(now func() time.Time) { m.now = now }

// NewPatientID returns a fresh patient identifier of the form P-XXXXXXXX.
func NewPatientID() string {
	return "P-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
}

// -- Relationships --

// AssignPatientToRoom succeeds only if both exist, the room is free and the
// patient has no room yet. The room row itself is never written.
func (m *Manager) AssignPatientToRoom(ctx context.Context, patientID, roomID string) error {
	p, err := m.patients.GetByID(ctx, patientID)
	if err != nil {
		return err
	}
	room, err := m.rooms.GetByID(ctx, roomID)
	if err != nil {
		return err
	}
	if p.HasRoom() {
		return ErrPatientHasRoom
	}
	if room.Occupied {
		return ErrRoomOccupied
	}

	ok, err := m.patients.SetRoom(ctx, patientID, roomID)
	if err != nil {
		return fmt.Errorf("assign room %s to patient %s: %w", roomID, patientID, err)
	}
	if !ok {
		// Another caller took the room (or gave the patient one) between the
		// read above and the conditional update.
		return ErrRoomOccupied
	}

	m.logger.Info().Str("patient_id", patientID).Str("room_id", roomID).Msg("room assigned")
	return nil
}

// AssignPatientToDoctor replaces any previous doctor. Re-assigning the same
// doctor is a successful no-op.
func (m *Manager) AssignPatientToDoctor(ctx context.Context, patientID, doctorID string) error {
	p, err := m.patients.GetByID(ctx, patientID)
	if err != nil {
		return err
	}
	if _, err := m.doctors.GetByID(ctx, doctorID); err != nil {
		return err
	}
	if p.DoctorID != nil && *p.DoctorID == doctorID {
		return nil
	}
	if err := m.patients.SetDoctor(ctx, patientID, doctorID); err != nil {
		return fmt.Errorf("assign doctor %s to patient %s: %w", doctorID, patientID, err)
	}

	evt := m.logger.Info().Str("patient_id", patientID).Str("doctor_id", doctorID)
	if p.DoctorID != nil {
		evt = evt.Str("previous_doctor_id", *p.DoctorID)
	}
	evt.Msg("doctor assigned")
	return nil
}

func (m *Manager) UnassignRoom(ctx context.Context, patientID string) error {
	return m.patients.ClearRoom(ctx, patientID)
}

func (m *Manager) UnassignDoctor(ctx context.Context, patientID string) error {
	return m.patients.ClearDoctor(ctx, patientID)
}

// DischargePatient archives a snapshot of the patient and deletes the row in
// one transaction. billed may be nil when no invoice was produced.
func (m *Manager) DischargePatient(ctx context.Context, patientID string, dischargedAt time.Time, billed *float64) (*PatientHistory, error) {
	var snapshot *PatientHistory
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		detail, err := m.patients.GetDetail(ctx, patientID)
		if err != nil {
			return err
		}
		snapshot = NewHistory(detail, dischargedAt, billed)
		if err := m.history.Create(ctx, snapshot); err != nil {
			return fmt.Errorf("archive patient %s: %w", patientID, err)
		}
		return m.patients.Delete(ctx, patientID)
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info().Str("patient_id", patientID).Int64("history_id", snapshot.HistoryID).Msg("patient discharged")
	return snapshot, nil
}

// DeleteDoctor clears every patient's reference to the doctor and deletes
// the doctor in one transaction. It returns how many patients were released.
func (m *Manager) DeleteDoctor(ctx context.Context, doctorID string) (int64, error) {
	var released int64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := m.patients.ClearDoctorRefs(ctx, doctorID)
		if err != nil {
			return fmt.Errorf("release patients of doctor %s: %w", doctorID, err)
		}
		if err := m.doctors.Delete(ctx, doctorID); err != nil {
			return err
		}
		released = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info().Str("doctor_id", doctorID).Int64("released", released).Msg("doctor deleted")
	return released, nil
}

// DeleteRoom clears the occupant's room reference and deletes the room in
// one transaction.
func (m *Manager) DeleteRoom(ctx context.Context, roomID string) (int64, error) {
	var released int64
	err := m.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := m.patients.ClearRoomRefs(ctx, roomID)
		if err != nil {
			return fmt.Errorf("release occupant of room %s: %w", roomID, err)
		}
		if err := m.rooms.Delete(ctx, roomID); err != nil {
			return err
		}
		released = n
		return nil
	})
	if err != nil {
		return 0, err
	}

	m.logger.Info().Str("room_id", roomID).Int64("released", released).Msg("room deleted")
	return released, nil
}

// -- Patient --

func validatePatient(p *Patient) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return fmt.Errorf("%w: patient name is required", ErrInvalid)
	}
	if p.Age < 0 || p.Age > 150 {
		return fmt.Errorf("%w: age must be between 0 and 150", ErrInvalid)
	}
	return nil
}

// CreatePatient inserts a patient. Room and doctor references are not taken
// from the payload; use the assignment operations.
func (m *Manager) CreatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	if p.PatientID == "" {
		p.PatientID = NewPatientID()
	}
	if p.AdmissionDate == nil {
		now := m.now()
		p.AdmissionDate = &now
	}
	p.RoomID = nil
	p.DoctorID = nil
	return m.patients.Create(ctx, p)
}

// UpdatePatient rewrites demographic fields only. An absent image path
// keeps the stored one.
func (m *Manager) UpdatePatient(ctx context.Context, p *Patient) error {
	if err := validatePatient(p); err != nil {
		return err
	}
	cur, err := m.patients.GetByID(ctx, p.PatientID)
	if err != nil {
		return err
	}
	if p.ImagePath == nil {
		p.ImagePath = cur.ImagePath
	}
	p.RoomID, p.DoctorID = cur.RoomID, cur.DoctorID
	return m.patients.Update(ctx, p)
}

func (m *Manager) GetPatient(ctx context.Context, id string) (*Patient, error) {
	return m.patients.GetByID(ctx, id)
}

func (m *Manager) PatientExists(ctx context.Context, id string) (bool, error) {
	return m.patients.Exists(ctx, id)
}

// GetPatientDetail returns the patient joined with its doctor and room.
func (m *Manager) GetPatientDetail(ctx context.Context, id string) (*PatientDetail, error) {
	return m.patients.GetDetail(ctx, id)
}

func (m *Manager) SearchPatients(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	return m.patients.Search(ctx, f, limit, offset)
}

func (m *Manager) ListPatients(ctx context.Context, limit, offset int) ([]*Patient, int, error) {
	return m.patients.Search(ctx, PatientFilter{}, limit, offset)
}

// PatientsForUser narrows f to the caller's own patients when the caller is
// a doctor. An unlinked doctor sees nothing.
func (m *Manager) PatientsForUser(ctx context.Context, doctorOnly bool, linkedID string, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	if doctorOnly {
		if linkedID == "" {
			return nil, 0, nil
		}
		f.DoctorID = linkedID
	}
	return m.patients.Search(ctx, f, limit, offset)
}

func (m *Manager) CountPatients(ctx context.Context) (int, error) {
	return m.patients.Count(ctx)
}

// SetPatientImage records the storage key of the patient's photo.
func (m *Manager) SetPatientImage(ctx context.Context, id, key string) error {
	p, err := m.patients.GetByID(ctx, id)
	if err != nil {
		return err
	}
	p.ImagePath = strPtr(key)
	return m.patients.Update(ctx, p)
}

// -- Doctor --

func (m *Manager) CreateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: doctor name is required", ErrInvalid)
	}
	if d.DoctorID == "" {
		d.DoctorID = "D-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	}
	return m.doctors.Create(ctx, d)
}

func (m *Manager) UpdateDoctor(ctx context.Context, d *Doctor) error {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("%w: doctor name is required", ErrInvalid)
	}
	cur, err := m.doctors.GetByID(ctx, d.DoctorID)
	if err != nil {
		return err
	}
	if d.ImagePath == nil {
		d.ImagePath = cur.ImagePath
	}
	return m.doctors.Update(ctx, d)
}

func (m *Manager) GetDoctor(ctx context.Context, id string) (*Doctor, error) {
	return m.doctors.GetByID(ctx, id)
}

func (m *Manager) ListDoctors(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	return m.doctors.List(ctx, limit, offset)
}

// DoctorPatients is the derived patient list of a doctor.
func (m *Manager) DoctorPatients(ctx context.Context, doctorID string) ([]*Patient, error) {
	if _, err := m.doctors.GetByID(ctx, doctorID); err != nil {
		return nil, err
	}
	return m.patients.ListByDoctor(ctx, doctorID)
}

func (m *Manager) SetDoctorImage(ctx context.Context, id, key string) error {
	d, err := m.doctors.GetByID(ctx, id)
	if err != nil {
		return err
	}
	d.ImagePath = strPtr(key)
	return m.doctors.Update(ctx, d)
}

// -- Room --

func validateRoom(r *Room) error {
	if !validRoomTypes[r.RoomType] {
		return fmt.Errorf("%w: room type must be General, ICU or Private", ErrInvalid)
	}
	if r.Price != nil && *r.Price < 0 {
		return fmt.Errorf("%w: price must not be negative", ErrInvalid)
	}
	return nil
}

func (m *Manager) CreateRoom(ctx context.Context, r *Room) error {
	r.RoomID = strings.TrimSpace(r.RoomID)
	if r.RoomID == "" {
		return fmt.Errorf("%w: room id is required", ErrInvalid)
	}
	if r.RoomType == "" {
		r.RoomType = RoomGeneral
	}
	if err := validateRoom(r); err != nil {
		return err
	}
	return m.rooms.Create(ctx, r)
}

func (m *Manager) UpdateRoom(ctx context.Context, r *Room) error {
	if err := validateRoom(r); err != nil {
		return err
	}
	return m.rooms.Update(ctx, r)
}

func (m *Manager) GetRoom(ctx context.Context, id string) (*Room, error) {
	return m.rooms.GetByID(ctx, id)
}

func (m *Manager) ListRooms(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	return m.rooms.List(ctx, false, limit, offset)
}

func (m *Manager) AvailableRooms(ctx context.Context, limit, offset int) ([]*Room, int, error) {
	return m.rooms.List(ctx, true, limit, offset)
}

func (m *Manager) RoomOccupancy(ctx context.Context) (occupied, total int, err error) {
	return m.rooms.CountOccupancy(ctx)
}

// -- History --

func (m *Manager) ListHistory(ctx context.Context, patientID string, limit, offset int) ([]*PatientHistory, int, error) {
	return m.history.List(ctx, patientID, limit, offset)
}
