package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/yourorg/scenegen/pkg/types"
)

// SQLiteStore keeps scenes in a local SQLite file. Useful for development
// and single-node deployments.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer; serialize on a single connection.
	db.SetMaxOpenConns(1)
	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.Init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) Init() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	quoted := make([]string, 0, len(types.Statuses))
	for _, st := range types.Statuses {
		quoted = append(quoted, "'"+string(st)+"'")
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS scenes (
			id TEXT PRIMARY KEY,
			schema_version INTEGER NOT NULL,
			topic TEXT NOT NULL CHECK (topic <> ''),
			manim_code TEXT NOT NULL CHECK (manim_code <> ''),
			audio_url TEXT NOT NULL DEFAULT '',
			video_url TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL CHECK (status IN (` + strings.Join(quoted, ",") + `)),
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_scenes_created ON scenes(created_at);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) Create(ctx context.Context, scene *types.Scene) (string, error) {
	rec, err := prepare(scene, s.now())
	if err != nil {
		return "", err
	}
	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx, `INSERT INTO scenes(id,schema_version,topic,manim_code,audio_url,video_url,status,created_at,updated_at) VALUES(?,?,?,?,?,?,?,?,?)`,
		id, rec.SchemaVersion, rec.Topic, rec.GeneratedCode, rec.AudioURL, rec.VideoURL, string(rec.Status), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return "", fmt.Errorf("%w: insert scene: %v", types.ErrPersistence, err)
	}
	return id, nil
}

const sceneColumns = `id,schema_version,topic,manim_code,audio_url,video_url,status,created_at,updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanScene(row scanner) (types.Scene, error) {
	var out types.Scene
	var status string
	err := row.Scan(&out.ID, &out.SchemaVersion, &out.Topic, &out.GeneratedCode, &out.AudioURL, &out.VideoURL, &status, &out.CreatedAt, &out.UpdatedAt)
	out.Status = types.Status(status)
	return out, err
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*types.Scene, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sceneColumns+` FROM scenes WHERE id=?`, id)
	out, err := scanScene(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, types.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]types.Scene, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sceneColumns+` FROM scenes ORDER BY created_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]types.Scene, 0)
	for rows.Next() {
		sc, err := scanScene(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return errors.New("store is nil")
	}
	return s.db.Close()
}
