package vkg

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"

	"github.com/jbpayton/sophia-ams/internal/embedding"
	"github.com/jbpayton/sophia-ams/internal/logging"
)

func init() {
	sqlite_vec.Auto() // registers the vec0 virtual table with go-sqlite3
}

// namedVectors are the five independently-searchable embeddings every
// triple carries (spec §3.1 invariants).
var namedVectors = []string{"subject", "relationship", "object", "topic", "content"}

func vecTable(field string) string { return "triple_vec_" + field }

// Store is the concrete VKG backed by SQLite + sqlite-vec.
type Store struct {
	db    *sql.DB
	path  string
	embed embedding.Generator

	vecAvailable bool
	vecDim       int

	mu sync.Mutex // serializes writes; readers use the pool freely
}

// Open opens or creates the VKG database under statePath/vkg.db.
func Open(statePath string, embed embedding.Generator) (*Store, error) {
	log := logging.For("vkg")

	dbPath := filepath.Join(statePath, "vkg.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("vkg: create state dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("vkg: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vkg: ping database: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("vkg: enable foreign keys: %w", err)
	}

	s := &Store{db: db, path: dbPath, embed: embed, vecDim: embed.Dim()}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("vkg: migrate: %w", err)
	}

	var vecVersion string
	if err := db.QueryRow("SELECT vec_version()").Scan(&vecVersion); err != nil {
		log.Warn().Err(err).Msg("sqlite-vec not available; vector search disabled")
	} else {
		log.Info().Str("version", vecVersion).Msg("sqlite-vec loaded")
		s.vecAvailable = true
		if err := s.ensureVecTables(s.vecDim); err != nil {
			log.Warn().Err(err).Msg("vec table init warning")
		}
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS triples (
		id TEXT PRIMARY KEY,
		subject TEXT NOT NULL,
		relationship TEXT NOT NULL,
		object TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		source TEXT,
		ts INTEGER,
		episode_id TEXT,
		speaker TEXT,
		is_from_summary BOOLEAN DEFAULT FALSE,
		goal_status TEXT,
		priority INTEGER,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_triples_subject ON triples(subject);
	CREATE INDEX IF NOT EXISTS idx_triples_relationship ON triples(relationship);
	CREATE INDEX IF NOT EXISTS idx_triples_object ON triples(object);
	CREATE INDEX IF NOT EXISTS idx_triples_ts ON triples(ts);
	CREATE INDEX IF NOT EXISTS idx_triples_episode ON triples(episode_id);
	CREATE INDEX IF NOT EXISTS idx_triples_goal_status ON triples(goal_status);
	CREATE INDEX IF NOT EXISTS idx_triples_priority ON triples(priority);

	INSERT OR IGNORE INTO schema_version (version) VALUES (1);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.runMigrations()
}

func (s *Store) runMigrations() error {
	log := logging.For("vkg")

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		version = 1
	}

	// Migration v2: backfill the denormalized filter columns for any rows
	// written before they existed (defensive — fresh DBs never hit this).
	if version < 2 {
		log.Info().Msg("migrating to schema v2: backfill filter columns")
		rows, err := s.db.Query(`SELECT id, metadata_json FROM triples WHERE source IS NULL`)
		if err == nil {
			type pending struct {
				id   string
				meta Meta
			}
			var todo []pending
			for rows.Next() {
				var id, metaJSON string
				if rows.Scan(&id, &metaJSON) != nil {
					continue
				}
				var m Meta
				if json.Unmarshal([]byte(metaJSON), &m) != nil {
					continue
				}
				todo = append(todo, pending{id: id, meta: m})
			}
			rows.Close()
			for _, p := range todo {
				s.db.Exec(`UPDATE triples SET source=?, ts=?, episode_id=?, speaker=?, is_from_summary=?, goal_status=?, priority=? WHERE id=?`,
					p.meta.Source, p.meta.Timestamp, p.meta.EpisodeID, p.meta.Speaker, p.meta.IsFromSummary, p.meta.GoalStatus, p.meta.Priority, p.id)
			}
		}
		s.db.Exec("INSERT INTO schema_version (version) VALUES (2)")
	}

	return nil
}

// ensureVecTables creates the five named-vector vec0 tables for dim if
// they do not exist yet. Tables that already exist are kept as they are,
// whatever dimension they were created with (an embedding-model change
// requires a fresh store). Existing triples are not re-embedded; they are
// only counted and logged.
func (s *Store) ensureVecTables(dim int) error {
	log := logging.For("vkg")

	for _, field := range namedVectors {
		ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS %s USING vec0(
			embedding float[%d],
			+triple_id TEXT
		)`, vecTable(field), dim)
		if _, err := s.db.Exec(ddl); err != nil {
			return fmt.Errorf("create %s(float[%d]): %w", vecTable(field), dim, err)
		}
	}
	s.vecDim = dim

	rows, err := s.db.Query(`SELECT rowid, id, metadata_json FROM triples`)
	if err != nil {
		return nil // backfill is best-effort
	}
	defer rows.Close()

	var backfilled int
	for rows.Next() {
		var rowid int64
		var id, metaJSON string
		if rows.Scan(&rowid, &id, &metaJSON) != nil {
			continue
		}
		// Backfill is driven by re-embedding triple text fields; since the
		// embedding call requires the original strings we skip rows we
		// can't recover here — add_triples always (re)indexes vectors on
		// write, so this pass only matters after a dimension change
		// forced a table rebuild on an otherwise-populated triples table.
		_ = id
		_ = metaJSON
		backfilled++
	}
	if backfilled > 0 {
		log.Info().Int("count", backfilled).Msg("vec tables present for existing triples (not re-embedded; a dimension change needs a fresh store)")
	}
	return nil
}

// normalize returns a unit-length copy of v. Normalizing before storing in
// vec0 makes L2 distance equivalent to cosine distance:
//
//	cosine_dist = L2_dist² / 2        (for unit vectors)
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// cosineDistToL2 converts a cosine-distance threshold to the equivalent L2
// threshold over unit-normalized vectors.
func cosineDistToL2(cosineDist float64) float64 {
	return math.Sqrt(2.0 * cosineDist)
}

// l2ToCosineSim converts an L2 distance over unit-normalized vectors back
// to a cosine similarity.
func l2ToCosineSim(l2dist float64) float64 {
	sim := 1.0 - (l2dist*l2dist)/2.0
	if sim < -1 {
		sim = -1
	}
	if sim > 1 {
		sim = 1
	}
	return sim
}

// cosineSimRaw computes cosine similarity directly between two float32
// vectors (used for compute_entity_similarities, which compares arbitrary
// pairs rather than running a vec0 KNN search).
func cosineSimRaw(a, b []float32) float64 {
	return embedding.CosineSimilarity(a, b)
}

// Stats returns row counts for the main tables.
func (s *Store) Stats() (map[string]int, error) {
	stats := make(map[string]int)
	var count int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM triples").Scan(&count); err != nil {
		return nil, err
	}
	stats["triples"] = count
	return stats, nil
}

// Clear removes all triples (for tests).
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.db.Exec("DELETE FROM triples"); err != nil {
		return err
	}
	for _, field := range namedVectors {
		s.db.Exec("DELETE FROM " + vecTable(field))
	}
	return nil
}
