package ward

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/db"
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// -- Patient Repository --

type patientRepoPG struct {
	pool *pgxpool.Pool
}

func NewPatientRepo(pool *pgxpool.Pool) PatientRepository {
	return &patientRepoPG{pool: pool}
}

func (r *patientRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const patientColumns = `patient_id, name, age, address, medical_history, admission_date, image_path, room_id, doctor_id`

func (r *patientRepoPG) Create(ctx context.Context, p *Patient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patients (patient_id, name, age, address, medical_history, admission_date, image_path, room_id, doctor_id)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, NOW()), $7, $8, $9)
		RETURNING admission_date`,
		p.PatientID, p.Name, p.Age, p.Address, p.MedicalHistory, p.AdmissionDate, p.ImagePath, p.RoomID, p.DoctorID,
	).Scan(&p.AdmissionDate)
	switch pgCode(err) {
	case pgUniqueViolation:
		return fmt.Errorf("patient %s: %w", p.PatientID, ErrDuplicateID)
	case pgForeignKeyViolation:
		return fmt.Errorf("patient %s references a missing room or doctor: %w", p.PatientID, ErrInvalid)
	}
	return err
}

func (r *patientRepoPG) GetByID(ctx context.Context, id string) (*Patient, error) {
	row := r.conn(ctx).QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE patient_id = $1`, id)
	p, err := scanPatient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	return p, err
}

func (r *patientRepoPG) GetDetail(ctx context.Context, id string) (*PatientDetail, error) {
	var (
		d                       PatientDetail
		docID, docName, docSpec *string
		docImage                *string
		roomID, roomType        *string
		roomPrice               *float64
	)
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT p.patient_id, p.name, p.age, p.address, p.medical_history, p.admission_date,
		       p.image_path, p.room_id, p.doctor_id,
		       d.doctor_id, d.name, d.specialization, d.image_path,
		       rm.room_id, rm.room_type, rm.price
		FROM patients p
		LEFT JOIN doctors d ON d.doctor_id = p.doctor_id
		LEFT JOIN rooms rm ON rm.room_id = p.room_id
		WHERE p.patient_id = $1`, id).Scan(
		&d.PatientID, &d.Name, &d.Age, &d.Address, &d.MedicalHistory, &d.AdmissionDate,
		&d.ImagePath, &d.RoomID, &d.DoctorID,
		&docID, &docName, &docSpec, &docImage,
		&roomID, &roomType, &roomPrice,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPatientNotFound
	}
	if err != nil {
		return nil, err
	}
	if docID != nil {
		d.Doctor = &Doctor{DoctorID: *docID, Name: deref(docName), Specialization: deref(docSpec), ImagePath: docImage}
	}
	if roomID != nil {
		d.Room = &Room{RoomID: *roomID, RoomType: deref(roomType), Price: roomPrice, Occupied: true, OccupantID: &d.PatientID}
	}
	return &d, nil
}

func (r *patientRepoPG) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM patients WHERE patient_id = $1)`, id).Scan(&exists)
	return exists, err
}

func (r *patientRepoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET
			name = $2, age = $3, address = $4, medical_history = $5,
			admission_date = COALESCE($6, admission_date), image_path = $7
		WHERE patient_id = $1`,
		p.PatientID, p.Name, p.Age, p.Address, p.MedicalHistory, p.AdmissionDate, p.ImagePath,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE patient_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func (r *patientRepoPG) Search(ctx context.Context, f PatientFilter, limit, offset int) ([]*Patient, int, error) {
	query := `SELECT ` + patientColumns + ` FROM patients WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM patients WHERE 1=1`
	var args []interface{}
	idx := 1

	if f.Name != "" {
		clause := fmt.Sprintf(` AND name ILIKE $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, "%"+f.Name+"%")
		idx++
	}
	if f.DoctorID != "" {
		clause := fmt.Sprintf(` AND doctor_id = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.DoctorID)
		idx++
	}
	if f.RoomID != "" {
		clause := fmt.Sprintf(` AND room_id = $%d`, idx)
		query += clause
		countQuery += clause
		args = append(args, f.RoomID)
		idx++
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY name, patient_id LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	patients, err := collectPatients(rows)
	return patients, total, err
}

func (r *patientRepoPG) ListByDoctor(ctx context.Context, doctorID string) ([]*Patient, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+patientColumns+` FROM patients WHERE doctor_id = $1 ORDER BY name, patient_id`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPatients(rows)
}

func (r *patientRepoPG) Count(ctx context.Context) (int, error) {
	var n int
	err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patients`).Scan(&n)
	return n, err
}

func (r *patientRepoPG) SetRoom(ctx context.Context, patientID, roomID string) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE patients SET room_id = $2
		WHERE patient_id = $1
		  AND room_id IS NULL
		  AND NOT EXISTS (SELECT 1 FROM patients WHERE room_id = $2)`,
		patientID, roomID,
	)
	switch pgCode(err) {
	case pgUniqueViolation:
		return false, nil
	case pgForeignKeyViolation:
		return false, ErrRoomNotFound
	}
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *patientRepoPG) ClearRoom(ctx context.Context, patientID string) error {
	return r.execOne(ctx, `UPDATE patients SET room_id = NULL WHERE patient_id = $1`, patientID)
}

func (r *patientRepoPG) SetDoctor(ctx context.Context, patientID, doctorID string) error {
	err := r.execOne(ctx, `UPDATE patients SET doctor_id = $2 WHERE patient_id = $1`, patientID, doctorID)
	if pgCode(err) == pgForeignKeyViolation {
		return ErrDoctorNotFound
	}
	return err
}

func (r *patientRepoPG) ClearDoctor(ctx context.Context, patientID string) error {
	return r.execOne(ctx, `UPDATE patients SET doctor_id = NULL WHERE patient_id = $1`, patientID)
}

func (r *patientRepoPG) ClearRoomRefs(ctx context.Context, roomID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patients SET room_id = NULL WHERE room_id = $1`, roomID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *patientRepoPG) ClearDoctorRefs(ctx context.Context, doctorID string) (int64, error) {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patients SET doctor_id = NULL WHERE doctor_id = $1`, doctorID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *patientRepoPG) execOne(ctx context.Context, sql string, args ...interface{}) error {
	tag, err := r.conn(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient
	err := row.Scan(
		&p.PatientID, &p.Name, &p.Age, &p.Address, &p.MedicalHistory, &p.AdmissionDate,
		&p.ImagePath, &p.RoomID, &p.DoctorID,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func collectPatients(rows pgx.Rows) ([]*Patient, error) {
	var out []*Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// -- Doctor Repository --

type doctorRepoPG struct {
	pool *pgxpool.Pool
}

func NewDoctorRepo(pool *pgxpool.Pool) DoctorRepository {
	return &doctorRepoPG{pool: pool}
}

func (r *doctorRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const doctorColumns = `doctor_id, name, specialization, image_path`

func (r *doctorRepoPG) Create(ctx context.Context, d *Doctor) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO doctors (doctor_id, name, specialization, image_path)
		VALUES ($1, $2, $3, $4)`,
		d.DoctorID, d.Name, d.Specialization, d.ImagePath,
	)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("doctor %s: %w", d.DoctorID, ErrDuplicateID)
	}
	return err
}

func (r *doctorRepoPG) GetByID(ctx context.Context, id string) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+doctorColumns+` FROM doctors WHERE doctor_id = $1`, id).
		Scan(&d.DoctorID, &d.Name, &d.Specialization, &d.ImagePath)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrDoctorNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (r *doctorRepoPG) Update(ctx context.Context, d *Doctor) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE doctors SET name = $2, specialization = $3, image_path = $4
		WHERE doctor_id = $1`,
		d.DoctorID, d.Name, d.Specialization, d.ImagePath,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM doctors WHERE doctor_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrDoctorNotFound
	}
	return nil
}

func (r *doctorRepoPG) List(ctx context.Context, limit, offset int) ([]*Doctor, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM doctors`).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+doctorColumns+` FROM doctors ORDER BY name, doctor_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var doctors []*Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.DoctorID, &d.Name, &d.Specialization, &d.ImagePath); err != nil {
			return nil, 0, err
		}
		doctors = append(doctors, &d)
	}
	return doctors, total, rows.Err()
}

// -- Room Repository --

type roomRepoPG struct {
	pool *pgxpool.Pool
}

func NewRoomRepo(pool *pgxpool.Pool) RoomRepository {
	return &roomRepoPG{pool: pool}
}

func (r *roomRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

// Occupancy is derived from the patients table on every read.
const roomSelect = `SELECT rm.room_id, rm.room_type, rm.price, o.patient_id
	FROM rooms rm
	LEFT JOIN patients o ON o.room_id = rm.room_id`

func (r *roomRepoPG) Create(ctx context.Context, rm *Room) error {
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO rooms (room_id, room_type, price) VALUES ($1, $2, $3)`,
		rm.RoomID, rm.RoomType, rm.Price,
	)
	if pgCode(err) == pgUniqueViolation {
		return fmt.Errorf("room %s: %w", rm.RoomID, ErrDuplicateID)
	}
	return err
}

func (r *roomRepoPG) GetByID(ctx context.Context, id string) (*Room, error) {
	rm, err := scanRoom(r.conn(ctx).QueryRow(ctx, roomSelect+` WHERE rm.room_id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRoomNotFound
	}
	return rm, err
}

func (r *roomRepoPG) Update(ctx context.Context, rm *Room) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE rooms SET room_type = $2, price = $3 WHERE room_id = $1`,
		rm.RoomID, rm.RoomType, rm.Price,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *roomRepoPG) Delete(ctx context.Context, id string) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM rooms WHERE room_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRoomNotFound
	}
	return nil
}

func (r *roomRepoPG) List(ctx context.Context, availableOnly bool, limit, offset int) ([]*Room, int, error) {
	where := ``
	if availableOnly {
		where = ` WHERE o.patient_id IS NULL`
	}

	var total int
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM rooms rm LEFT JOIN patients o ON o.room_id = rm.room_id`+where).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx, roomSelect+where+` ORDER BY rm.room_id LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var rooms []*Room
	for rows.Next() {
		rm, err := scanRoom(rows)
		if err != nil {
			return nil, 0, err
		}
		rooms = append(rooms, rm)
	}
	return rooms, total, rows.Err()
}

func (r *roomRepoPG) CountOccupancy(ctx context.Context) (int, int, error) {
	var occupied, total int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COUNT(o.patient_id), COUNT(*)
		FROM rooms rm LEFT JOIN patients o ON o.room_id = rm.room_id`).Scan(&occupied, &total)
	return occupied, total, err
}

func scanRoom(row pgx.Row) (*Room, error) {
	var rm Room
	if err := row.Scan(&rm.RoomID, &rm.RoomType, &rm.Price, &rm.OccupantID); err != nil {
		return nil, err
	}
	rm.Occupied = rm.OccupantID != nil
	return &rm, nil
}

// -- History Repository --

type historyRepoPG struct {
	pool *pgxpool.Pool
}

func NewHistoryRepo(pool *pgxpool.Pool) HistoryRepository {
	return &historyRepoPG{pool: pool}
}

func (r *historyRepoPG) conn(ctx context.Context) db.Querier {
	return db.Pick(ctx, r.pool)
}

const historyColumns = `history_id, patient_id, name, age, address, medical_history, admission_date,
	discharged_at, room_id, room_type, doctor_id, doctor_name, billed_total`

func (r *historyRepoPG) Create(ctx context.Context, h *PatientHistory) error {
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO patient_history (
			patient_id, name, age, address, medical_history, admission_date,
			discharged_at, room_id, room_type, doctor_id, doctor_name, billed_total
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING history_id`,
		h.PatientID, h.Name, h.Age, h.Address, h.MedicalHistory, h.AdmissionDate,
		h.DischargedAt, h.RoomID, h.RoomType, h.DoctorID, h.DoctorName, h.BilledTotal,
	).Scan(&h.HistoryID)
}

func (r *historyRepoPG) List(ctx context.Context, patientID string, limit, offset int) ([]*PatientHistory, int, error) {
	where := ` WHERE 1=1`
	var args []interface{}
	if patientID != "" {
		where = ` WHERE patient_id = $1`
		args = append(args, patientID)
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM patient_history`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := `SELECT ` + historyColumns + ` FROM patient_history` + where +
		fmt.Sprintf(` ORDER BY discharged_at DESC LIMIT $%d OFFSET $%d`, n+1, n+2)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*PatientHistory
	for rows.Next() {
		var h PatientHistory
		if err := rows.Scan(
			&h.HistoryID, &h.PatientID, &h.Name, &h.Age, &h.Address, &h.MedicalHistory, &h.AdmissionDate,
			&h.DischargedAt, &h.RoomID, &h.RoomType, &h.DoctorID, &h.DoctorName, &h.BilledTotal,
		); err != nil {
			return nil, 0, err
		}
		out = append(out, &h)
	}
	return out, total, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
