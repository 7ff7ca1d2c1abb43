package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

const healthTimeout = 3 * time.Second

// PoolStats is the part of the pgxpool statistics shown on /health/db and
// mirrored into the pool gauges.
type PoolStats struct {
	Total         int32 `json:"total"`
	Idle          int32 `json:"idle"`
	InUse         int32 `json:"in_use"`
	Max           int32 `json:"max"`
	EmptyAcquires int64 `json:"empty_acquires"`
	AcquireWaitMS int64 `json:"acquire_wait_ms"`
}

func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	stat := pool.Stat()
	return &PoolStats{
		Total:         stat.TotalConns(),
		Idle:          stat.IdleConns(),
		InUse:         stat.AcquiredConns(),
		Max:           stat.MaxConns(),
		EmptyAcquires: stat.EmptyAcquireCount(),
		AcquireWaitMS: stat.AcquireDuration().Milliseconds(),
	}
}

// SchemaState summarizes the migration table: the highest applied version
// and the names of files not yet applied.
type SchemaState struct {
	Version int      `json:"version"`
	Pending []string `json:"pending,omitempty"`
}

func schemaState(statuses []MigrationStatus) SchemaState {
	var st SchemaState
	for _, s := range statuses {
		if !s.Applied {
			st.Pending = append(st.Pending, s.Name)
			continue
		}
		if s.Version > st.Version {
			st.Version = s.Version
		}
	}
	return st
}

// Readiness is the /health/db body.
type Readiness struct {
	Status  string       `json:"status"`
	Problem string       `json:"problem,omitempty"`
	Pool    *PoolStats   `json:"pool,omitempty"`
	Schema  *SchemaState `json:"schema,omitempty"`
}

// readiness maps the check results onto a status code. Error text stays in
// the log; the body only names which check failed.
func readiness(pingErr error, statuses []MigrationStatus, statusErr error) (int, Readiness) {
	switch {
	case pingErr != nil:
		return http.StatusServiceUnavailable, Readiness{Status: "unavailable", Problem: "database unreachable"}
	case statusErr != nil:
		return http.StatusServiceUnavailable, Readiness{Status: "unavailable", Problem: "migration state unknown"}
	}
	st := schemaState(statuses)
	r := Readiness{Status: "ready", Schema: &st}
	if len(st.Pending) > 0 {
		r.Status, r.Problem = "migrating", "migrations pending"
		return http.StatusServiceUnavailable, r
	}
	return http.StatusOK, r
}

// HealthHandler answers /health/db. The ward store is ready once the pool
// answers a ping and every known migration is applied. A nil migrator skips
// the schema check.
func HealthHandler(pool *pgxpool.Pool, m *Migrator, logger zerolog.Logger) echo.HandlerFunc {
	log := logger.With().Str("component", "db-health").Logger()
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		var (
			statuses  []MigrationStatus
			statusErr error
		)
		pingErr := pool.Ping(ctx)
		if pingErr != nil {
			log.Warn().Err(pingErr).Msg("database ping failed")
		} else if m != nil {
			if statuses, statusErr = m.Status(ctx); statusErr != nil {
				log.Warn().Err(statusErr).Msg("read migration status failed")
			}
		}

		code, body := readiness(pingErr, statuses, statusErr)
		body.Pool = GetPoolStats(pool)
		return c.JSON(code, body)
	}
}
