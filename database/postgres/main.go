// Package postgres archives the outcome of finished coaching sessions:
// profile, plan and first week. Transcripts are never stored.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sbaglivi/RunGraph/coach"
	"github.com/sbaglivi/RunGraph/logger"
	"github.com/sbaglivi/RunGraph/models"

	_ "github.com/lib/pq"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

type DatabaseConnectProps struct {
	Logger   *logger.LogMiddleware
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	// Connection attempts before giving up, 5 when zero.
	Retries   int
	RetryWait time.Duration
}

type Database struct {
	Queries
	conn   *sql.DB
	logger *logger.LogMiddleware
}

var _ coach.Archiver = (*Database)(nil)

func Connect(ctx context.Context, args DatabaseConnectProps) (*Database, error) {
	tracer := otel.Tracer("postgres/Connect")
	ctx, span := tracer.Start(ctx, "Connect")
	defer span.End()

	connectRetries := args.Retries
	if connectRetries <= 0 {
		connectRetries = 5
	}
	sleepTime := args.RetryWait
	if sleepTime <= 0 {
		sleepTime = 5 * time.Second
	}

	logger := args.Logger.Logger(ctx)

	var (
		conn *sql.DB
		err  error
	)
	for connectRetries > 0 {
		conn, err = getConnection(ctx, args)
		if err == nil {
			logger.Info("[Postgres] Database client started")
			break
		}
		connectRetries -= 1
		logger.Error(
			"[Postgres] Could not connect to Postgres. Retrying after sleeping.",
			zap.Error(err),
			zap.Int("Retries Left", connectRetries),
			zap.Duration("Sleep Time", sleepTime),
			zap.String("Host", args.Host))
		if connectRetries == 0 {
			break
		}
		select {
		case <-time.After(sleepTime):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if err != nil {
		logger.Error("[Postgres] Failed to Connect to Postgres")
		span.RecordError(err)
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db := &Database{Queries: *New(conn), conn: conn, logger: args.Logger}
	if err := db.EnsureSchema(ctx); err != nil {
		span.RecordError(err)
		conn.Close()
		return nil, fmt.Errorf("could not create schema: %w", err)
	}
	return db, nil
}

func getConnection(ctx context.Context, args DatabaseConnectProps) (*sql.DB, error) {
	tracer := otel.Tracer("postgres/getConnection")
	ctx, span := tracer.Start(ctx, "getConnection")
	defer span.End()

	sslMode := args.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}

	postgresqlDbInfo := fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		args.Host, args.Port, args.User, args.Password, args.Name, sslMode,
	)

	db, err := sql.Open("postgres", postgresqlDbInfo)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		span.RecordError(err)
		db.Close()
		return nil, err
	}
	return db, nil
}

func (d *Database) Close() error {
	return d.conn.Close()
}

// Archive stores the outcome of a finished session.
func (d *Database) Archive(ctx context.Context, st *models.State) error {
	tracer := otel.Tracer("postgres/Archive")
	ctx, span := tracer.Start(ctx, "Archive")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", st.ID))

	params, err := OutcomeParams(st)
	if err != nil {
		span.RecordError(err)
		return err
	}

	if _, err := d.Queries.UpsertOutcome(ctx, params); err != nil {
		d.logger.Logger(ctx).Error(
			"[Postgres] Could not archive session",
			zap.Error(err),
			zap.String("session_id", st.ID),
		)
		span.RecordError(err)
		return fmt.Errorf("could not archive session %s: %w", st.ID, err)
	}

	d.logger.Logger(ctx).Info("[Postgres] Archived session", zap.String("session_id", st.ID))
	return nil
}

// OutcomeParams keeps only the outcome of st.
func OutcomeParams(st *models.State) (UpsertOutcomeParams, error) {
	profile, err := json.Marshal(st.Profile)
	if err != nil {
		return UpsertOutcomeParams{}, fmt.Errorf("could not encode profile: %w", err)
	}
	params := UpsertOutcomeParams{
		SessionID: st.ID,
		UserLevel: string(st.UserLevel),
		Profile:   profile,
	}
	if st.Plan != nil && st.PlanAccepted {
		if params.Plan, err = json.Marshal(st.Plan); err != nil {
			return UpsertOutcomeParams{}, fmt.Errorf("could not encode plan: %w", err)
		}
	}
	if st.WeeklySchedule != nil {
		if params.WeeklySchedule, err = json.Marshal(st.WeeklySchedule); err != nil {
			return UpsertOutcomeParams{}, fmt.Errorf("could not encode schedule: %w", err)
		}
	}
	return params, nil
}
