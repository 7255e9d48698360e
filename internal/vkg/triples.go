package vkg

import (
	"context"
	"crypto/md5"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"

	"github.com/jbpayton/sophia-ams/internal/logging"
)

// PointID computes the deterministic, content-addressed triple identity
// (spec §6.7): md5("{subject}-{relationship}-{object}").
func PointID(s, p, o string) string {
	h := md5.Sum([]byte(s + "-" + p + "-" + o))
	return hex.EncodeToString(h[:])
}

func contentText(s, p, o string) string {
	return fmt.Sprintf("Subject: %s, Relationship: %s, Object: %s", s, p, o)
}

// AddTriples upserts each (subject, predicate, object) with its metadata,
// computing all five named embeddings (spec §4.1 add_triples). A length
// mismatch between triples and metas substitutes empty metadata for all
// entries rather than erroring. No single bad triple fails the batch —
// errors are logged and that triple is skipped.
func (s *Store) AddTriples(ctx context.Context, triples []Triple, metas []Meta) error {
	log := logging.For("vkg")

	if len(triples) == 0 {
		return nil
	}
	if len(metas) != len(triples) {
		log.Warn().Int("triples", len(triples)).Int("metas", len(metas)).
			Msg("add_triples: metadata length mismatch, using empty metadata for all")
		metas = make([]Meta, len(triples))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, t := range triples {
		if err := s.addOne(ctx, t, metas[i]); err != nil {
			log.Warn().Err(err).Str("subject", t.Subject).Str("relationship", t.Relationship).
				Str("object", t.Object).Msg("add_triples: skipping malformed triple")
		}
	}
	return nil
}

func (s *Store) addOne(ctx context.Context, t Triple, meta Meta) error {
	if t.Subject == "" || t.Relationship == "" || t.Object == "" {
		return fmt.Errorf("empty subject/relationship/object")
	}

	id := PointID(t.Subject, t.Relationship, t.Object)

	subjVec, err := s.embed.Embed(ctx, t.Subject)
	if err != nil {
		return fmt.Errorf("embed subject: %w", err)
	}
	relVec, err := s.embed.Embed(ctx, t.Relationship)
	if err != nil {
		return fmt.Errorf("embed relationship: %w", err)
	}
	objVec, err := s.embed.Embed(ctx, t.Object)
	if err != nil {
		return fmt.Errorf("embed object: %w", err)
	}
	contentVec, err := s.embed.Embed(ctx, contentText(t.Subject, t.Relationship, t.Object))
	if err != nil {
		return fmt.Errorf("embed content: %w", err)
	}

	topicText := validTopicsJoined(meta.Topics)
	var topicVec []float32
	if topicText == "" {
		topicVec = make([]float32, s.embed.Dim())
	} else {
		topicVec, err = s.embed.Embed(ctx, topicText)
		if err != nil {
			return fmt.Errorf("embed topics: %w", err)
		}
	}

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO triples (id, subject, relationship, object, metadata_json, source, ts, episode_id, speaker, is_from_summary, goal_status, priority, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			metadata_json=excluded.metadata_json,
			source=excluded.source,
			ts=excluded.ts,
			episode_id=excluded.episode_id,
			speaker=excluded.speaker,
			is_from_summary=excluded.is_from_summary,
			goal_status=excluded.goal_status,
			priority=excluded.priority,
			updated_at=CURRENT_TIMESTAMP
	`, id, t.Subject, t.Relationship, t.Object, string(metaJSON), meta.Source, meta.Timestamp, meta.EpisodeID, meta.Speaker, meta.IsFromSummary, meta.GoalStatus, meta.Priority)
	if err != nil {
		return fmt.Errorf("upsert triple row: %w", err)
	}

	var rowid int64
	if err := tx.QueryRowContext(ctx, `SELECT rowid FROM triples WHERE id = ?`, id).Scan(&rowid); err != nil {
		return fmt.Errorf("read rowid: %w", err)
	}

	if s.vecAvailable {
		vectors := map[string][]float32{
			"subject":      subjVec,
			"relationship": relVec,
			"object":       objVec,
			"topic":        topicVec,
			"content":      contentVec,
		}
		for field, vec := range vectors {
			if err := s.upsertVec(ctx, tx, field, rowid, id, vec); err != nil {
				return fmt.Errorf("upsert %s vector: %w", field, err)
			}
		}
	}

	return tx.Commit()
}

func (s *Store) upsertVec(ctx context.Context, tx *sql.Tx, field string, rowid int64, tripleID string, vec []float32) error {
	normalized := normalize(vec)
	serialized, err := sqlite_vec.SerializeFloat32(normalized)
	if err != nil {
		return err
	}
	tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE rowid = ?`, vecTable(field)), rowid)
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(rowid, embedding, triple_id) VALUES (?, ?, ?)`, vecTable(field)), rowid, serialized, tripleID)
	return err
}

func validTopicsJoined(topics []string) string {
	var kept []string
	for _, t := range topics {
		t = strings.TrimSpace(t)
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, " ")
}

// vecHit is one row from a vec0 KNN search.
type vecHit struct {
	TripleID string
	Distance float64
}

// searchVec runs a KNN search against the named vector field and returns
// up to k nearest hits ordered by ascending L2 distance.
func (s *Store) searchVec(ctx context.Context, field string, queryVec []float32, k int) ([]vecHit, error) {
	if !s.vecAvailable {
		return nil, nil
	}
	if k <= 0 {
		k = 10
	}
	normalized := normalize(queryVec)
	serialized, err := sqlite_vec.SerializeFloat32(normalized)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(
		`SELECT triple_id, distance FROM %s WHERE embedding MATCH ? AND k = ? ORDER BY distance`,
		vecTable(field)), serialized, k)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vecHit
	for rows.Next() {
		var h vecHit
		if err := rows.Scan(&h.TripleID, &h.Distance); err != nil {
			continue
		}
		hits = append(hits, h)
	}
	return hits, nil
}

// getTriple loads a full TripleRecord by id.
func (s *Store) getTriple(ctx context.Context, id string) (*TripleRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT subject, relationship, object, metadata_json FROM triples WHERE id = ?`, id)
	var subj, rel, obj, metaJSON string
	if err := row.Scan(&subj, &rel, &obj, &metaJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var meta Meta
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return &TripleRecord{ID: id, T: Triple{Subject: subj, Relationship: rel, Object: obj}, Meta: meta}, nil
}

// FindTriplesByTextSimilarity embeds query once and searches the
// triple_content vector field (spec §4.1).
func (s *Store) FindTriplesByTextSimilarity(ctx context.Context, query string, threshold float64, limit int, returnMetadata bool) ([]ScoredTriple, error) {
	queryVec, err := s.embed.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	l2Threshold := cosineDistToL2(1 - threshold)

	hits, err := s.searchVec(ctx, "content", queryVec, maxInt(limit*3, limit+10))
	if err != nil {
		return nil, err
	}

	var out []ScoredTriple
	for _, h := range hits {
		if h.Distance > l2Threshold {
			continue
		}
		rec, err := s.getTriple(ctx, h.TripleID)
		if err != nil {
			continue
		}
		sim := l2ToCosineSim(h.Distance)
		if returnMetadata {
			rec.Meta.Confidence = sim
		}
		out = append(out, ScoredTriple{TripleRecord: *rec, Score: sim})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// FindTriplesByVectorizedTopics concatenates non-empty topics and searches
// the topic_vector field (spec §4.1). Returns no results for an empty or
// all-blank topic list.
func (s *Store) FindTriplesByVectorizedTopics(ctx context.Context, topics []string, threshold float64, limit int) ([]ScoredTriple, error) {
	joined := validTopicsJoined(topics)
	if joined == "" {
		return nil, nil
	}
	queryVec, err := s.embed.Embed(ctx, joined)
	if err != nil {
		return nil, fmt.Errorf("embed topics: %w", err)
	}
	l2Threshold := cosineDistToL2(1 - threshold)

	hits, err := s.searchVec(ctx, "topic", queryVec, maxInt(limit*3, limit+10))
	if err != nil {
		return nil, err
	}

	var out []ScoredTriple
	for _, h := range hits {
		if h.Distance > l2Threshold {
			continue
		}
		rec, err := s.getTriple(ctx, h.TripleID)
		if err != nil {
			continue
		}
		sim := l2ToCosineSim(h.Distance)
		rec.Meta.TopicSimilarityScore = sim
		out = append(out, ScoredTriple{TripleRecord: *rec, Score: sim})
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// BuildGraphFromSubjectRelationship intersects nearest-neighbour hits on
// the subject and relationship vectors, keeping only triples present in
// both result sets whose subject-match score is above threshold (spec
// §4.1).
func (s *Store) BuildGraphFromSubjectRelationship(ctx context.Context, subject, verb string, threshold float64, maxResults int) ([]ScoredTriple, error) {
	subjVec, err := s.embed.Embed(ctx, subject)
	if err != nil {
		return nil, fmt.Errorf("embed subject: %w", err)
	}
	verbVec, err := s.embed.Embed(ctx, verb)
	if err != nil {
		return nil, fmt.Errorf("embed verb: %w", err)
	}

	k := maxInt(maxResults*3, maxResults+10)
	subjHits, err := s.searchVec(ctx, "subject", subjVec, k)
	if err != nil {
		return nil, err
	}
	relHits, err := s.searchVec(ctx, "relationship", verbVec, k)
	if err != nil {
		return nil, err
	}

	relSet := make(map[string]bool, len(relHits))
	for _, h := range relHits {
		relSet[h.TripleID] = true
	}

	var out []ScoredTriple
	for _, h := range subjHits {
		if !relSet[h.TripleID] {
			continue
		}
		sim := l2ToCosineSim(h.Distance)
		if sim < threshold {
			continue
		}
		rec, err := s.getTriple(ctx, h.TripleID)
		if err != nil {
			continue
		}
		rec.Meta.Confidence = sim
		out = append(out, ScoredTriple{TripleRecord: *rec, Score: sim})
		if len(out) >= maxResults {
			break
		}
	}
	return out, nil
}

// BuildGraphFromNoun performs a BFS from query over the subject vector
// field, decaying confidence by confidenceDecay at each hop, up to
// maxDepth, tracking a visited set keyed by node text to avoid cycles
// (spec §4.1, §9).
func (s *Store) BuildGraphFromNoun(ctx context.Context, query string, threshold float64, maxDepth int, confidenceDecay float64) ([]ScoredTriple, error) {
	if confidenceDecay <= 0 {
		confidenceDecay = 0.8
	}

	type frontierNode struct {
		text       string
		confidence float64
		depth      int
	}

	visited := map[string]bool{query: true}
	queue := []frontierNode{{text: query, confidence: 1.0, depth: 0}}
	var out []ScoredTriple

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if node.depth >= maxDepth {
			continue
		}

		vec, err := s.embed.Embed(ctx, node.text)
		if err != nil {
			logging.For("vkg").Debug().Err(err).Str("node", node.text).Msg("build_graph_from_noun: embed failed, skipping node")
			continue
		}
		hits, err := s.searchVec(ctx, "subject", vec, 20)
		if err != nil {
			continue
		}
		for _, h := range hits {
			sim := l2ToCosineSim(h.Distance)
			if sim < threshold {
				continue
			}
			rec, err := s.getTriple(ctx, h.TripleID)
			if err != nil {
				continue
			}
			confidence := node.confidence * sim
			rec.Meta.Confidence = confidence
			out = append(out, ScoredTriple{TripleRecord: *rec, Score: confidence})

			if !visited[rec.T.Object] {
				visited[rec.T.Object] = true
				queue = append(queue, frontierNode{
					text:       rec.T.Object,
					confidence: confidence * confidenceDecay,
					depth:      node.depth + 1,
				})
			}
		}
	}
	return out, nil
}

// QueryByTimeRange scrolls triples whose metadata.timestamp falls within
// [start, end] (spec §4.1).
func (s *Store) QueryByTimeRange(ctx context.Context, start, end int64, limit int) ([]TripleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, relationship, object, metadata_json FROM triples
		WHERE ts BETWEEN ? AND ? ORDER BY ts DESC LIMIT ?`, start, end, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// QueryByEpisode scrolls triples tagged with episode_id.
func (s *Store) QueryByEpisode(ctx context.Context, episodeID string, limit int) ([]TripleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, relationship, object, metadata_json FROM triples
		WHERE episode_id = ? ORDER BY ts DESC LIMIT ?`, episodeID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]TripleRecord, error) {
	var out []TripleRecord
	for rows.Next() {
		var id, subj, rel, obj, metaJSON string
		if err := rows.Scan(&id, &subj, &rel, &obj, &metaJSON); err != nil {
			continue
		}
		var meta Meta
		if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
			continue
		}
		out = append(out, TripleRecord{ID: id, T: Triple{Subject: subj, Relationship: rel, Object: obj}, Meta: meta})
	}
	return out, nil
}

// EntityPair is an upper-triangle similarity pair returned by
// ComputeEntitySimilarities.
type EntityPair struct {
	A, B       string
	Similarity float64
}

// ComputeEntitySimilarities embeds every entity and returns all pairs with
// cosine similarity >= threshold, sorted descending (spec §4.1).
func (s *Store) ComputeEntitySimilarities(ctx context.Context, entities []string, threshold float64) ([]EntityPair, error) {
	vecs := make([][]float32, len(entities))
	for i, e := range entities {
		v, err := s.embed.Embed(ctx, e)
		if err != nil {
			return nil, fmt.Errorf("embed %q: %w", e, err)
		}
		vecs[i] = v
	}

	var out []EntityPair
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			sim := cosineSimRaw(vecs[i], vecs[j])
			if sim >= threshold {
				out = append(out, EntityPair{A: entities[i], B: entities[j], Similarity: sim})
			}
		}
	}
	sortPairsDesc(out)
	return out, nil
}

func sortPairsDesc(pairs []EntityPair) {
	for i := 1; i < len(pairs); i++ {
		for j := i; j > 0 && pairs[j-1].Similarity < pairs[j].Similarity; j-- {
			pairs[j-1], pairs[j] = pairs[j], pairs[j-1]
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
