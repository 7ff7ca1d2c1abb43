package integration

import (
	"context"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/admin"
	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/hospital"
	"github.com/hms/hms/internal/domain/intake"
	"github.com/hms/hms/internal/domain/ward"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/blobstore"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/events"
	"github.com/hms/hms/internal/platform/telemetry"
	"github.com/hms/hms/migrations"
)

// globalPool points at a throwaway schema migrated once in TestMain.
var globalPool *pgxpool.Pool

var testJWT = auth.JWTConfig{Issuer: "hms-it", SigningKey: []byte("integration-key"), TTL: time.Hour}

// TestMain runs the suite against HMS_TEST_DATABASE_URL. Without it the
// suite is skipped so unit test runs stay hermetic.
func TestMain(m *testing.M) {
	url := os.Getenv("HMS_TEST_DATABASE_URL")
	if url == "" {
		fmt.Fprintln(os.Stderr, "HMS_TEST_DATABASE_URL not set, skipping integration tests")
		os.Exit(0)
	}

	ctx := context.Background()
	schema := "hms_it_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	root, err := pgxpool.New(ctx, url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}
	if _, err := root.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		fmt.Fprintf(os.Stderr, "create schema: %v\n", err)
		os.Exit(1)
	}

	sep := "?"
	if strings.Contains(url, "?") {
		sep = "&"
	}
	pool, err := db.NewPool(ctx, db.PoolConfig{URL: url + sep + "search_path=" + schema, MaxConns: 8})
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to schema: %v\n", err)
		os.Exit(1)
	}
	if _, err := db.NewMigrator(pool, migrations.FS, zerolog.Nop()).Up(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	globalPool = pool

	code := m.Run()

	pool.Close()
	if _, err := root.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE"); err != nil {
		fmt.Fprintf(os.Stderr, "warning: drop schema %s: %v\n", schema, err)
	}
	root.Close()
	os.Exit(code)
}

// resetTables empties every table so each test starts clean.
func resetTables(t *testing.T) {
	t.Helper()
	_, err := globalPool.Exec(context.Background(),
		"TRUNCATE patients, doctors, rooms, bookings, users, patient_history RESTART IDENTITY")
	if err != nil {
		t.Fatalf("truncate: %v", err)
	}
}

type stack struct {
	ward   *ward.Manager
	intake *intake.Workflow
	facade *hospital.Facade
	users  *admin.Service
	events *events.Recorder
	files  *blobstore.InMemoryStore
}

func newStack(t *testing.T) *stack {
	t.Helper()
	resetTables(t)

	logger := zerolog.Nop()
	txm := db.NewTxManager(globalPool)
	wm := ward.NewManager(ward.NewPatientRepo(globalPool), ward.NewDoctorRepo(globalPool),
		ward.NewRoomRepo(globalPool), ward.NewHistoryRepo(globalPool), txm, logger)
	wf := intake.NewWorkflow(intake.NewBookingRepo(globalPool), wm, txm, logger)
	rec := &events.Recorder{}
	files := blobstore.NewInMemoryStore()
	facade := hospital.NewFacade(wm, wf, billing.NewEngine(wm, logger), rec, files, telemetry.NewProvider(false), logger)

	return &stack{
		ward:   wm,
		intake: wf,
		facade: facade,
		users:  admin.NewService(admin.NewUserRepo(globalPool), testJWT, logger),
		events: rec,
		files:  files,
	}
}

func seed(t *testing.T, s *stack) {
	t.Helper()
	ctx := context.Background()
	for _, r := range []*ward.Room{
		{RoomID: "R-101", RoomType: ward.RoomGeneral},
		{RoomID: "R-201", RoomType: ward.RoomPrivate},
		{RoomID: "R-301", RoomType: ward.RoomICU},
	} {
		if err := s.ward.CreateRoom(ctx, r); err != nil {
			t.Fatalf("seed room %s: %v", r.RoomID, err)
		}
	}
	if err := s.ward.CreateDoctor(ctx, &ward.Doctor{DoctorID: "D-1", Name: "House", Specialization: "Diagnostics"}); err != nil {
		t.Fatalf("seed doctor: %v", err)
	}
	admitted := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, p := range []*ward.Patient{
		{PatientID: "P-1", Name: "Ada", Age: 36, AdmissionDate: &admitted},
		{PatientID: "P-2", Name: "Bob", Age: 41, AdmissionDate: &admitted},
	} {
		if err := s.ward.CreatePatient(ctx, p); err != nil {
			t.Fatalf("seed patient %s: %v", p.PatientID, err)
		}
	}
}

func ptrStr(s string) *string { return &s }
