// Package episodic implements the persistent, append-only store of
// episodes keyed by episode_id (spec §4.4). Unlike the VKG it carries no
// vector search requirement, so it is backed by the pure-Go
// modernc.org/sqlite driver rather than the cgo sqlite-vec stack.
package episodic

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	_ "modernc.org/sqlite"

	"github.com/jbpayton/sophia-ams/internal/logging"
)

// Message is one conversational turn within an episode.
type Message struct {
	Speaker   string `json:"speaker"`
	Content   string `json:"content"`
	Timestamp int64  `json:"timestamp"`
}

// Episode is a time-bounded sequence of conversational turns (spec §3.2).
type Episode struct {
	ID        string
	ShortID   string
	SessionID string
	Metadata  map[string]string
	Messages  []Message
	StartTime int64
	EndTime   int64 // zero until finalized
	Topics    []string
	Summary   string
}

// Store is the episodic memory backing store.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// Open opens or creates the episodic database under statePath/episodes.db.
func Open(statePath string) (*Store, error) {
	dbPath := filepath.Join(statePath, "episodes.db")
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("episodic: create state dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("episodic: open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("episodic: ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("episodic: migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS episodes (
		id TEXT PRIMARY KEY,
		short_id TEXT,
		session_id TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		messages_json TEXT NOT NULL DEFAULT '[]',
		start_time INTEGER NOT NULL,
		end_time INTEGER,
		topics_json TEXT NOT NULL DEFAULT '[]',
		summary TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_episodes_session ON episodes(session_id);
	CREATE INDEX IF NOT EXISTS idx_episodes_start ON episodes(start_time);
	`
	_, err := s.db.Exec(schema)
	return err
}

func shortID(id string) string {
	hash := blake3.Sum256([]byte(id))
	return hex.EncodeToString(hash[:])[:5]
}

// CreateEpisode starts a new episode for sessionID and returns its id.
func (s *Store) CreateEpisode(ctx context.Context, sessionID string, metadata map[string]string) (string, error) {
	id := uuid.NewString()
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, _ := json.Marshal(metadata)

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO episodes (id, short_id, session_id, metadata_json, messages_json, start_time, topics_json, summary)
		VALUES (?, ?, ?, ?, '[]', ?, '[]', '')`,
		id, shortID(id), sessionID, string(metaJSON), time.Now().Unix())
	if err != nil {
		return "", fmt.Errorf("create_episode: %w", err)
	}
	return id, nil
}

// AddMessageToEpisode appends a turn to an episode. A missing id is
// logged and returns without raising (spec §4.4 failure semantics).
func (s *Store) AddMessageToEpisode(ctx context.Context, id, speaker, content string, timestamp int64) {
	log := logging.For("episodic")
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, err := s.getLocked(ctx, id)
	if err != nil {
		log.Warn().Str("episode_id", id).Msg("add_message_to_episode: episode not found")
		return
	}
	ep.Messages = append(ep.Messages, Message{Speaker: speaker, Content: content, Timestamp: timestamp})

	if err := s.saveLocked(ctx, ep); err != nil {
		log.Warn().Err(err).Str("episode_id", id).Msg("add_message_to_episode: save failed")
	}
}

// FinalizeEpisode sets topics, summary, and end_time=now. Missing id is
// logged and returns without raising.
func (s *Store) FinalizeEpisode(ctx context.Context, id string, topics []string, summary string) {
	log := logging.For("episodic")

	s.mu.Lock()
	defer s.mu.Unlock()

	ep, err := s.getLocked(ctx, id)
	if err != nil {
		log.Warn().Str("episode_id", id).Msg("finalize_episode: episode not found")
		return
	}
	ep.Topics = topics
	ep.Summary = summary
	ep.EndTime = time.Now().Unix()

	if err := s.saveLocked(ctx, ep); err != nil {
		log.Warn().Err(err).Str("episode_id", id).Msg("finalize_episode: save failed")
	}
}

// GetEpisode loads an episode by id.
func (s *Store) GetEpisode(ctx context.Context, id string) (*Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(ctx, id)
}

func (s *Store) getLocked(ctx context.Context, id string) (*Episode, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, short_id, session_id, metadata_json, messages_json, start_time, end_time, topics_json, summary
		FROM episodes WHERE id = ?`, id)
	return scanEpisode(row)
}

func (s *Store) saveLocked(ctx context.Context, ep *Episode) error {
	metaJSON, _ := json.Marshal(ep.Metadata)
	msgJSON, _ := json.Marshal(ep.Messages)
	topicsJSON, _ := json.Marshal(ep.Topics)

	var endTime any
	if ep.EndTime != 0 {
		endTime = ep.EndTime
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE episodes SET metadata_json=?, messages_json=?, end_time=?, topics_json=?, summary=?
		WHERE id=?`, string(metaJSON), string(msgJSON), endTime, string(topicsJSON), ep.Summary, ep.ID)
	return err
}

func scanEpisode(row *sql.Row) (*Episode, error) {
	var ep Episode
	var metaJSON, msgJSON, topicsJSON string
	var endTime sql.NullInt64

	if err := row.Scan(&ep.ID, &ep.ShortID, &ep.SessionID, &metaJSON, &msgJSON, &ep.StartTime, &endTime, &topicsJSON, &ep.Summary); err != nil {
		return nil, err
	}
	if endTime.Valid {
		ep.EndTime = endTime.Int64
	}
	json.Unmarshal([]byte(metaJSON), &ep.Metadata)
	json.Unmarshal([]byte(msgJSON), &ep.Messages)
	json.Unmarshal([]byte(topicsJSON), &ep.Topics)
	return &ep, nil
}

func scanEpisodeRows(rows *sql.Rows) ([]*Episode, error) {
	var out []*Episode
	for rows.Next() {
		var ep Episode
		var metaJSON, msgJSON, topicsJSON string
		var endTime sql.NullInt64
		if err := rows.Scan(&ep.ID, &ep.ShortID, &ep.SessionID, &metaJSON, &msgJSON, &ep.StartTime, &endTime, &topicsJSON, &ep.Summary); err != nil {
			continue
		}
		if endTime.Valid {
			ep.EndTime = endTime.Int64
		}
		json.Unmarshal([]byte(metaJSON), &ep.Metadata)
		json.Unmarshal([]byte(msgJSON), &ep.Messages)
		json.Unmarshal([]byte(topicsJSON), &ep.Topics)
		out = append(out, &ep)
	}
	return out, nil
}

// QueryEpisodesByTime returns episodes whose start_time falls in [start, end].
func (s *Store) QueryEpisodesByTime(ctx context.Context, start, end int64) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_id, session_id, metadata_json, messages_json, start_time, end_time, topics_json, summary
		FROM episodes WHERE start_time BETWEEN ? AND ? ORDER BY start_time DESC`, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEpisodeRows(rows)
}

// GetRecentEpisodes returns up to limit episodes started within the last
// hours hours.
func (s *Store) GetRecentEpisodes(ctx context.Context, hours float64, limit int) ([]*Episode, error) {
	if limit <= 0 {
		limit = 20
	}
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour))).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_id, session_id, metadata_json, messages_json, start_time, end_time, topics_json, summary
		FROM episodes WHERE start_time >= ? ORDER BY start_time DESC LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEpisodeRows(rows)
}

// QueryEpisodesBySession returns all episodes for sessionID, oldest first.
func (s *Store) QueryEpisodesBySession(ctx context.Context, sessionID string) ([]*Episode, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_id, session_id, metadata_json, messages_json, start_time, end_time, topics_json, summary
		FROM episodes WHERE session_id = ? ORDER BY start_time ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEpisodeRows(rows)
}

// SearchEpisodesByContent performs a substring search across messages and
// summary (spec §4.4); limited to limit results.
func (s *Store) SearchEpisodesByContent(ctx context.Context, query string, limit int) ([]*Episode, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_id, session_id, metadata_json, messages_json, start_time, end_time, topics_json, summary
		FROM episodes WHERE messages_json LIKE ? OR summary LIKE ? ORDER BY start_time DESC`,
		"%"+query+"%", "%"+query+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanEpisodeRows(rows)
	if err != nil {
		return nil, err
	}
	lowerQuery := strings.ToLower(query)
	var matched []*Episode
	for _, ep := range all {
		if strings.Contains(strings.ToLower(ep.Summary), lowerQuery) || containsInMessages(ep.Messages, lowerQuery) {
			matched = append(matched, ep)
			if len(matched) >= limit {
				break
			}
		}
	}
	return matched, nil
}

func containsInMessages(messages []Message, lowerQuery string) bool {
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Content), lowerQuery) {
			return true
		}
	}
	return false
}

// GetConversationContext formats the tail of an episode (up to maxTurns
// messages) as "Speaker: content" lines.
func (s *Store) GetConversationContext(ctx context.Context, id string, maxTurns int) (string, error) {
	ep, err := s.GetEpisode(ctx, id)
	if err != nil {
		return "", err
	}
	msgs := ep.Messages
	if maxTurns > 0 && len(msgs) > maxTurns {
		msgs = msgs[len(msgs)-maxTurns:]
	}
	var b strings.Builder
	for _, m := range msgs {
		fmt.Fprintf(&b, "%s: %s\n", m.Speaker, m.Content)
	}
	return b.String(), nil
}

// TimelineDay groups episode summaries for a single calendar day.
type TimelineDay struct {
	Date     string
	Episodes []*Episode
}

// GetTimelineSummary groups episodes from the last `days` days by date.
func (s *Store) GetTimelineSummary(ctx context.Context, days int) ([]TimelineDay, error) {
	cutoff := time.Now().AddDate(0, 0, -days).Unix()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, short_id, session_id, metadata_json, messages_json, start_time, end_time, topics_json, summary
		FROM episodes WHERE start_time >= ? ORDER BY start_time ASC`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all, err := scanEpisodeRows(rows)
	if err != nil {
		return nil, err
	}

	grouped := make(map[string][]*Episode)
	for _, ep := range all {
		date := time.Unix(ep.StartTime, 0).UTC().Format("2006-01-02")
		grouped[date] = append(grouped[date], ep)
	}

	var dates []string
	for d := range grouped {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	var out []TimelineDay
	for _, d := range dates {
		out = append(out, TimelineDay{Date: d, Episodes: grouped[d]})
	}
	return out, nil
}
