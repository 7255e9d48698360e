// Package asm implements the Associative Semantic Memory: ingestion,
// blended retrieval, procedural knowledge, the goal system, and
// summarization, all built on top of the Vector Knowledge Graph (spec
// §4.3).
package asm

import (
	"github.com/jbpayton/sophia-ams/internal/extract"
	"github.com/jbpayton/sophia-ams/internal/llmclient"
	"github.com/jbpayton/sophia-ams/internal/vkg"
)

// Config tunes ASM-wide defaults (spec §4.3, configurable via
// internal/config).
type Config struct {
	OwnerName       string
	SummaryMaxTokens int
}

// ASM is the associative semantic memory façade.
type ASM struct {
	store     *vkg.Store
	extractor *extract.Adapter
	llm       llmclient.Client
	cfg       Config
}

func New(store *vkg.Store, extractor *extract.Adapter, llm llmclient.Client, cfg Config) *ASM {
	if cfg.SummaryMaxTokens <= 0 {
		cfg.SummaryMaxTokens = 256
	}
	return &ASM{store: store, extractor: extractor, llm: llm, cfg: cfg}
}
