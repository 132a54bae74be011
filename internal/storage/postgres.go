// Package storage implements the persistence component (C2): persons,
// reference-image embeddings, attendance records, rooms and cameras.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/attendance/facepresence/internal/config"
	"github.com/attendance/facepresence/internal/models"
)

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("storage: not found")

// pgUniqueViolation is the Postgres SQLSTATE for a unique-constraint violation.
const pgUniqueViolation = "23505"

// PostgresStore is the C2 persistence implementation.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	poolCfg.MaxConns = int32(cfg.MaxConns)

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Persons ---

func (s *PostgresStore) CreatePerson(ctx context.Context, externalID, firstName, lastName, group string) (*models.Person, error) {
	p := &models.Person{
		ID:         uuid.New(),
		ExternalID: externalID,
		FirstName:  firstName,
		LastName:   lastName,
		Group:      group,
	}
	err := s.pool.QueryRow(ctx,
		`INSERT INTO persons (id, external_id, first_name, last_name, "group") VALUES ($1, $2, $3, $4, $5) RETURNING created_at`,
		p.ID, p.ExternalID, p.FirstName, p.LastName, p.Group,
	).Scan(&p.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPersonByExternalID(ctx context.Context, externalID string) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, first_name, last_name, "group", created_at FROM persons WHERE external_id = $1`, externalID,
	).Scan(&p.ID, &p.ExternalID, &p.FirstName, &p.LastName, &p.Group, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) GetPerson(ctx context.Context, id uuid.UUID) (*models.Person, error) {
	p := &models.Person{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, external_id, first_name, last_name, "group", created_at FROM persons WHERE id = $1`, id,
	).Scan(&p.ID, &p.ExternalID, &p.FirstName, &p.LastName, &p.Group, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get person: %w", err)
	}
	return p, nil
}

func (s *PostgresStore) ListPersons(ctx context.Context, skip, limit int) ([]models.Person, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, external_id, first_name, last_name, "group", created_at FROM persons ORDER BY created_at DESC OFFSET $1 LIMIT $2`,
		skip, limit)
	if err != nil {
		return nil, fmt.Errorf("list persons: %w", err)
	}
	defer rows.Close()

	var out []models.Person
	for rows.Next() {
		var p models.Person
		if err := rows.Scan(&p.ID, &p.ExternalID, &p.FirstName, &p.LastName, &p.Group, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// DeletePerson removes the person and, via ON DELETE CASCADE, their
// reference embeddings and attendance rows (C2's half of the data-model
// lifecycle in spec.md §3; the caller is still responsible for removing
// the person's C3 slots and C8 presence entries).
func (s *PostgresStore) DeletePerson(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM persons WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// --- Reference embeddings (C2 half of C4's transactional insert) ---

// InsertReferenceEmbeddingTx inserts one reference row using an existing
// transaction. The enrollment coordinator commits that transaction before
// adding the vector to C3, and deletes the row again if the add fails.
func (s *PostgresStore) InsertReferenceEmbeddingTx(ctx context.Context, tx pgx.Tx, personID uuid.UUID, imageKey string, embedding []float32) (*models.ReferenceEmbedding, error) {
	re := &models.ReferenceEmbedding{
		ID:        uuid.New(),
		PersonID:  personID,
		ImageKey:  imageKey,
		Embedding: embedding,
	}
	vec := pgvector.NewVector(embedding)
	err := tx.QueryRow(ctx,
		`INSERT INTO reference_embeddings (id, person_id, image_key, embedding) VALUES ($1, $2, $3, $4) RETURNING created_at`,
		re.ID, re.PersonID, re.ImageKey, vec,
	).Scan(&re.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert reference embedding: %w", err)
	}
	return re, nil
}

func (s *PostgresStore) DeleteReferenceEmbedding(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM reference_embeddings WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) CountReferenceEmbeddings(ctx context.Context, personID uuid.UUID) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM reference_embeddings WHERE person_id = $1`, personID,
	).Scan(&count)
	return count, err
}

// ListAllReferenceEmbeddings loads every reference row, for rebuilding the
// in-memory similarity index (C3) from the system of record on cold start.
func (s *PostgresStore) ListAllReferenceEmbeddings(ctx context.Context) ([]models.ReferenceEmbedding, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, image_key, embedding, created_at FROM reference_embeddings ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list reference embeddings: %w", err)
	}
	defer rows.Close()

	var out []models.ReferenceEmbedding
	for rows.Next() {
		var re models.ReferenceEmbedding
		var vec pgvector.Vector
		if err := rows.Scan(&re.ID, &re.PersonID, &re.ImageKey, &vec, &re.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan reference embedding: %w", err)
		}
		re.Embedding = vec.Slice()
		out = append(out, re)
	}
	return out, nil
}

// WithTx runs fn inside a transaction, committing on success and rolling
// back on any error or panic.
func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// --- Attendance (C6) ---

// InsertAttendance attempts the unique-constraint-guarded insert described
// by spec.md §4.4 step 2. A unique violation is reported as
// (nil, true, nil) so the caller can translate it to "already".
func (s *PostgresStore) InsertAttendance(ctx context.Context, personID uuid.UUID, day string, checkInTime time.Time, confidence float32, snapshotKey string) (*models.AttendanceRecord, bool, error) {
	rec := &models.AttendanceRecord{
		ID:          uuid.New(),
		PersonID:    personID,
		Day:         day,
		CheckInTime: checkInTime,
		Confidence:  confidence,
		SnapshotKey: snapshotKey,
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance_records (id, person_id, day, check_in_time, confidence, snapshot_key)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		rec.ID, rec.PersonID, rec.Day, rec.CheckInTime, rec.Confidence, rec.SnapshotKey)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("insert attendance: %w", err)
	}
	return rec, false, nil
}

func (s *PostgresStore) AttendanceForDay(ctx context.Context, day string) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, day, check_in_time, confidence, snapshot_key FROM attendance_records WHERE day = $1 ORDER BY check_in_time`,
		day)
	if err != nil {
		return nil, fmt.Errorf("attendance for day: %w", err)
	}
	defer rows.Close()
	return scanAttendanceRows(rows)
}

func (s *PostgresStore) AttendanceForPerson(ctx context.Context, personID uuid.UUID, from, to string) ([]models.AttendanceRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, person_id, day, check_in_time, confidence, snapshot_key FROM attendance_records
		 WHERE person_id = $1 AND day >= $2 AND day <= $3 ORDER BY day DESC`,
		personID, from, to)
	if err != nil {
		return nil, fmt.Errorf("attendance for person: %w", err)
	}
	defer rows.Close()
	return scanAttendanceRows(rows)
}

func (s *PostgresStore) AttendanceStatistics(ctx context.Context, from, to string) ([]models.DailyStat, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day, COUNT(*), COUNT(DISTINCT person_id) FROM attendance_records
		 WHERE day >= $1 AND day <= $2 GROUP BY day ORDER BY day`,
		from, to)
	if err != nil {
		return nil, fmt.Errorf("attendance statistics: %w", err)
	}
	defer rows.Close()

	var out []models.DailyStat
	for rows.Next() {
		var d models.DailyStat
		if err := rows.Scan(&d.Day, &d.CheckIns, &d.DistinctPeople); err != nil {
			return nil, fmt.Errorf("scan daily stat: %w", err)
		}
		out = append(out, d)
	}
	return out, nil
}

func scanAttendanceRows(rows pgx.Rows) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for rows.Next() {
		var r models.AttendanceRecord
		if err := rows.Scan(&r.ID, &r.PersonID, &r.Day, &r.CheckInTime, &r.Confidence, &r.SnapshotKey); err != nil {
			return nil, fmt.Errorf("scan attendance record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

// --- Rooms & cameras ---

func (s *PostgresStore) CreateRoom(ctx context.Context, name string) (*models.Room, error) {
	r := &models.Room{ID: uuid.New(), Name: name, Active: true}
	_, err := s.pool.Exec(ctx, `INSERT INTO rooms (id, name, active) VALUES ($1, $2, $3)`, r.ID, r.Name, r.Active)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}
	return r, nil
}

func (s *PostgresStore) ListRooms(ctx context.Context) ([]models.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, active FROM rooms ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list rooms: %w", err)
	}
	defer rows.Close()

	var out []models.Room
	for rows.Next() {
		var r models.Room
		if err := rows.Scan(&r.ID, &r.Name, &r.Active); err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *PostgresStore) GetRoom(ctx context.Context, id uuid.UUID) (*models.Room, error) {
	r := &models.Room{}
	err := s.pool.QueryRow(ctx, `SELECT id, name, active FROM rooms WHERE id = $1`, id).Scan(&r.ID, &r.Name, &r.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get room: %w", err)
	}
	return r, nil
}

// DeleteRoom removes the room and, via ON DELETE CASCADE, its cameras
// (spec.md §3: "Deleting a room deletes its cameras").
func (s *PostgresStore) DeleteRoom(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete room: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) CreateCamera(ctx context.Context, roomID uuid.UUID, name, sourceAddr string) (*models.Camera, error) {
	c := &models.Camera{ID: uuid.New(), RoomID: roomID, Name: name, SourceAddr: sourceAddr, Active: true}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cameras (id, room_id, name, source_addr, active) VALUES ($1, $2, $3, $4, $5)`,
		c.ID, c.RoomID, c.Name, c.SourceAddr, c.Active)
	if err != nil {
		return nil, fmt.Errorf("create camera: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) GetCamera(ctx context.Context, id uuid.UUID) (*models.Camera, error) {
	c := &models.Camera{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, room_id, name, source_addr, active FROM cameras WHERE id = $1`, id,
	).Scan(&c.ID, &c.RoomID, &c.Name, &c.SourceAddr, &c.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get camera: %w", err)
	}
	return c, nil
}

func (s *PostgresStore) ListCamerasByRoom(ctx context.Context, roomID uuid.UUID) ([]models.Camera, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, name, source_addr, active FROM cameras WHERE room_id = $1 ORDER BY name`, roomID)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var out []models.Camera
	for rows.Next() {
		var c models.Camera
		if err := rows.Scan(&c.ID, &c.RoomID, &c.Name, &c.SourceAddr, &c.Active); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		out = append(out, c)
	}
	return out, nil
}
