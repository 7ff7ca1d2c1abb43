package ward

import (
	"context"
)

// PatientRepository defines the persistence interface for patients. All
// reference mutations are single-row statements; callers wrap multi-row
// changes in a transaction.
type PatientRepository interface {
	Create(ctx context.Context, p *Patient) error
	GetByID(ctx context.Context, id string) (*Patient, error)
	GetDetail(ctx context.Context, id string) (*PatientDetail, error)
	Exists(ctx context.Context, id string) (bool, error)
	Update(ctx context.Context, p *Patient) error
	Delete(ctx context.Context, id string) error
	Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error)
	ListByDoctor(ctx context.Context, doctorID string) ([]*Patient, error)
	Count(ctx context.Context) (int, error)

	// SetRoom assigns roomID only if the patient has no room and nobody else
	// occupies roomID. It reports false when that condition no longer holds.
	SetRoom(ctx context.Context, patientID, roomID string) (bool, error)
	ClearRoom(ctx context.Context, patientID string) error
	SetDoctor(ctx context.Context, patientID, doctorID string) error
	ClearDoctor(ctx context.Context, patientID string) error
	ClearRoomRefs(ctx context.Context, roomID string) (int64, error)
	ClearDoctorRefs(ctx context.Context, doctorID string) (int64, error)
}

// DoctorRepository defines the persistence interface for doctors.
type DoctorRepository interface {
	Create(ctx context.Context, d *Doctor) error
	GetByID(ctx context.Context, id string) (*Doctor, error)
	Update(ctx context.Context, d *Doctor) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit, offset int) ([]*Doctor, int, error)
}

// RoomRepository defines the persistence interface for rooms. Reads fill the
// derived occupancy fields.
type RoomRepository interface {
	Create(ctx context.Context, r *Room) error
	GetByID(ctx context.Context, id string) (*Room, error)
	Update(ctx context.Context, r *Room) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, availableOnly bool, limit, offset int) ([]*Room, int, error)
	CountOccupancy(ctx context.Context) (occupied, total int, err error)
}

// HistoryRepository stores discharge snapshots.
type HistoryRepository interface {
	Create(ctx context.Context, h *PatientHistory) error
	List(ctx context.Context, patientID string, limit, offset int) ([]*PatientHistory, int, error)
}
