package vkg

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetTriple loads a full TripleRecord by its content-addressed id.
func (s *Store) GetTriple(ctx context.Context, id string) (*TripleRecord, error) {
	return s.getTriple(ctx, id)
}

// QueryGoalByDescription searches the object vector field for
// description and returns the first hit whose relationship is
// "has_goal" and whose score is >= threshold (spec §4.1
// query_goal_by_description).
func (s *Store) QueryGoalByDescription(ctx context.Context, description string, threshold float64) (*TripleRecord, error) {
	queryVec, err := s.embed.Embed(ctx, description)
	if err != nil {
		return nil, fmt.Errorf("embed description: %w", err)
	}
	l2Threshold := cosineDistToL2(1 - threshold)

	hits, err := s.searchVec(ctx, "object", queryVec, 20)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if h.Distance > l2Threshold {
			continue
		}
		rec, err := s.getTriple(ctx, h.TripleID)
		if err != nil {
			continue
		}
		if rec.T.Relationship == PredicateHasGoal {
			return rec, nil
		}
	}
	return nil, ErrNotFound
}

// UpdateGoalMeta replaces the stored metadata for id (the triple's
// subject/relationship/object are unchanged, so vectors are not
// re-embedded). Returns ErrNotFound if id doesn't exist (spec §4.3.4
// update_goal: "look up current metadata; return false if not found").
func (s *Store) UpdateGoalMeta(ctx context.Context, id string, meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE triples SET metadata_json=?, source=?, ts=?, episode_id=?, speaker=?,
			is_from_summary=?, goal_status=?, priority=?, updated_at=CURRENT_TIMESTAMP
		WHERE id=?`,
		string(metaJSON), meta.Source, meta.Timestamp, meta.EpisodeID, meta.Speaker,
		meta.IsFromSummary, meta.GoalStatus, meta.Priority, id)
	if err != nil {
		return fmt.Errorf("update goal metadata: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// QueryGoalsByOwner scans has_goal triples whose subject is owner.
func (s *Store) QueryGoalsByOwner(ctx context.Context, owner string) ([]TripleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, relationship, object, metadata_json FROM triples
		WHERE relationship = ? AND subject = ?`, PredicateHasGoal, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// QuerySubgoalsOf scans subgoal_of triples whose object is parentDescription.
func (s *Store) QuerySubgoalsOf(ctx context.Context, parentDescription string) ([]TripleRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject, relationship, object, metadata_json FROM triples
		WHERE relationship = ? AND object = ?`, PredicateSubgoalOf, parentDescription)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}
