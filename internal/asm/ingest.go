package asm

import (
	"context"
	"strings"
	"time"

	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/logging"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

// IngestResult mirrors the {triples: […]} return of ingest_text.
type IngestResult struct {
	Triples []vkg.Triple
}

// IngestText extracts triples from text and writes them to the VKG (spec
// §4.3.1). Extraction failure does not abort ingestion of later triples
// in the same call — there is only one extraction call per IngestText,
// so "later triples" means triples already parsed before a downstream
// write error.
func (a *ASM) IngestText(ctx context.Context, text, source string, timestamp int64, speaker, episodeID string) IngestResult {
	log := logging.For("asm")

	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	isConversation := strings.Contains(strings.ToLower(source), "conversation")
	mode := extract.ModeFactual
	if isConversation {
		mode = extract.ModeConversation
	}

	result := a.extractor.Extract(ctx, text, mode, speaker)
	if result.Error != "" {
		log.Warn().Str("error", result.Error).Msg("ingest_text: extraction failed, no triples ingested")
	}

	var triples []vkg.Triple
	var metas []vkg.Meta
	for _, t := range result.Triples {
		triples = append(triples, vkg.Triple{Subject: t.Subject, Relationship: t.Verb, Object: t.Object})
		meta := vkg.Meta{
			Source:        source,
			Timestamp:     timestamp,
			SourceText:    t.SourceText,
			Speaker:       t.Speaker,
			Topics:        t.Topics,
			EpisodeID:     episodeID,
			IsFromSummary: false,
		}
		if t.AbstractionLevel > 0 {
			meta.AbstractionLevel = t.AbstractionLevel
		}
		metas = append(metas, meta)
	}

	if len(triples) > 0 {
		if err := a.store.AddTriples(ctx, triples, metas); err != nil {
			log.Warn().Err(err).Msg("ingest_text: add_triples failed")
		}
	}

	return IngestResult{Triples: triples}
}

// IngestDocument is a thin convenience wrapper for ingesting a whole
// document as a single factual source, chunked by paragraph so each
// extraction call stays within a reasonable prompt size. Document
// fetching/chunking strategy beyond simple paragraph splitting is out of
// scope (spec §1 non-goals: document fetching/chunking).
func (a *ASM) IngestDocument(ctx context.Context, text, source string, timestamp int64) IngestResult {
	if timestamp == 0 {
		timestamp = time.Now().Unix()
	}

	var all IngestResult
	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		r := a.IngestText(ctx, para, source, timestamp, "", "")
		all.Triples = append(all.Triples, r.Triples...)
	}
	return all
}
