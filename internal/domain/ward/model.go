package ward

import (
	"time"
)

// Room types. The set is closed; anything else is rejected on create/update.
const (
	RoomGeneral = "General"
	RoomICU     = "ICU"
	RoomPrivate = "Private"
)

var validRoomTypes = map[string]bool{
	RoomGeneral: true,
	RoomICU:     true,
	RoomPrivate: true,
}

// Patient maps to the patients table. RoomID and DoctorID are non-owning
// references resolved by id lookup.
type Patient struct {
	PatientID      string     `db:"patient_id" json:"patient_id"`
	Name           string     `db:"name" json:"name"`
	Age            int        `db:"age" json:"age"`
	Address        string     `db:"address" json:"address"`
	MedicalHistory string     `db:"medical_history" json:"medical_history"`
	AdmissionDate  *time.Time `db:"admission_date" json:"admission_date,omitempty"`
	ImagePath      *string    `db:"image_path" json:"image_path,omitempty"`
	RoomID         *string    `db:"room_id" json:"room_id,omitempty"`
	DoctorID       *string    `db:"doctor_id" json:"doctor_id,omitempty"`
}

// HasRoom reports whether the patient currently references a room.
func (p *Patient) HasRoom() bool { return p.RoomID != nil && *p.RoomID != "" }

// Doctor maps to the doctors table. Its patient list is never stored; see
// Manager.DoctorPatients.
type Doctor struct {
	DoctorID       string  `db:"doctor_id" json:"doctor_id"`
	Name           string  `db:"name" json:"name"`
	Specialization string  `db:"specialization" json:"specialization"`
	ImagePath      *string `db:"image_path" json:"image_path,omitempty"`
}

// Room maps to the rooms table. Occupied and OccupantID are derived at read
// time from the patients table.
type Room struct {
	RoomID     string   `db:"room_id" json:"room_id"`
	RoomType   string   `db:"room_type" json:"room_type"`
	Price      *float64 `db:"price" json:"price,omitempty"`
	Occupied   bool     `db:"-" json:"occupied"`
	OccupantID *string  `db:"-" json:"occupant_id,omitempty"`
}

// DailyRate returns the explicit tariff when set, otherwise the rate for the
// room type.
func (r *Room) DailyRate() float64 {
	if r.Price != nil {
		return *r.Price
	}
	return RateForType(r.RoomType)
}

// RateForType is the per-day tariff for a room type.
func RateForType(roomType string) float64 {
	switch roomType {
	case RoomICU:
		return 200.0
	case RoomPrivate:
		return 100.0
	default:
		return 50.0
	}
}

// PatientDetail is a read-only snapshot of a patient joined with its doctor
// and room, built for a single response and never cached.
type PatientDetail struct {
	Patient
	Doctor *Doctor `json:"doctor,omitempty"`
	Room   *Room   `json:"room,omitempty"`
}

// PatientHistory is the archival record written at discharge. Insert-only.
type PatientHistory struct {
	HistoryID      int64      `db:"history_id" json:"history_id"`
	PatientID      string     `db:"patient_id" json:"patient_id"`
	Name           string     `db:"name" json:"name"`
	Age            int        `db:"age" json:"age"`
	Address        string     `db:"address" json:"address"`
	MedicalHistory string     `db:"medical_history" json:"medical_history"`
	AdmissionDate  *time.Time `db:"admission_date" json:"admission_date,omitempty"`
	DischargedAt   time.Time  `db:"discharged_at" json:"discharged_at"`
	RoomID         *string    `db:"room_id" json:"room_id,omitempty"`
	RoomType       *string    `db:"room_type" json:"room_type,omitempty"`
	DoctorID       *string    `db:"doctor_id" json:"doctor_id,omitempty"`
	DoctorName     *string    `db:"doctor_name" json:"doctor_name,omitempty"`
	BilledTotal    *float64   `db:"billed_total" json:"billed_total,omitempty"`
}

// NewHistory snapshots d as discharged at the given time.
func NewHistory(d *PatientDetail, dischargedAt time.Time, billed *float64) *PatientHistory {
	h := &PatientHistory{
		PatientID:      d.PatientID,
		Name:           d.Name,
		Age:            d.Age,
		Address:        d.Address,
		MedicalHistory: d.MedicalHistory,
		AdmissionDate:  d.AdmissionDate,
		DischargedAt:   dischargedAt,
		RoomID:         d.RoomID,
		DoctorID:       d.DoctorID,
		BilledTotal:    billed,
	}
	if d.Room != nil {
		rt := d.Room.RoomType
		h.RoomType = &rt
	}
	if d.Doctor != nil {
		name := d.Doctor.Name
		h.DoctorName = &name
	}
	return h
}

// PatientFilter narrows SearchPatients. Empty fields are ignored.
type PatientFilter struct {
	Name     string
	DoctorID string
	RoomID   string
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
