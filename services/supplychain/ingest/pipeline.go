// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ingest converts batches of traceability events into idempotent
// graph mutations and commits them through the store adapter.
//
// # Pipeline Stages
//
//  1. Validate: every record is checked against a minimal schema; invalid
//     records are collected into a rejection list and never abort the batch.
//  2. Map: each valid record becomes a set of node and relationship upserts
//     implied by its event type.
//  3. Batch-write: mutations are grouped into bounded-size transactions and
//     committed atomically, with bounded exponential-backoff retry on
//     transient store failures.
//
// # Idempotency
//
// Event IDs derive deterministically from source fields, node keys derive
// from stable references, and relationship weights are reconciled from the
// accumulated observation set. Replaying a batch under at-least-once
// delivery is therefore a no-op.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/chaintrace/services/supplychain/graph"
	"github.com/AleutianAI/chaintrace/services/supplychain/store"
)

// Pipeline ingests traceability event batches into the graph store.
//
// Thread Safety:
//
//	Safe for concurrent use. Concurrent batches may interleave; per-key
//	write serialization is the store adapter's responsibility.
type Pipeline struct {
	store   store.Adapter
	cfg     Config
	logger  *slog.Logger
	limiter *rate.Limiter
}

// New creates a pipeline over the given store adapter.
func New(s store.Adapter, cfg Config, logger *slog.Logger) *Pipeline {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &Pipeline{store: s, cfg: cfg, logger: logger}
	if cfg.WriteRate > 0 {
		burst := cfg.WriteBurst
		if burst <= 0 {
			burst = 1
		}
		p.limiter = rate.NewLimiter(cfg.WriteRate, burst)
	}
	return p
}

// eventChunk is a group of events whose mutations commit in one transaction.
type eventChunk struct {
	events    []parsedEvent
	mutations []graph.Mutation
}

// Ingest processes one batch of raw events.
//
// Description:
//
//	Partial success is the default: a malformed record is rejected with a
//	reason and never aborts the rest of the batch. A sub-batch whose commit
//	fails after all retries is reported with reason store_unavailable while
//	the remaining sub-batches continue.
//
// Inputs:
//
//	ctx - Context for cancellation. Must not be nil.
//	batch - The raw event records. May be empty.
//
// Outputs:
//
//	IngestResult - Accepted/rejected counts, itemized rejections, and the
//	graph version after the batch.
//	error - Non-nil only for systemic failures (context cancellation).
func (p *Pipeline) Ingest(ctx context.Context, batch []RawEvent) (IngestResult, error) {
	result := IngestResult{}

	// Stage 1: validate.
	var valid []parsedEvent
	for i := range batch {
		ev, reason := validateEvent(i, &batch[i])
		if reason != "" {
			rej := Rejection{Index: i, Reason: reason}
			// The event ID is only meaningful when the id-forming
			// fields validated.
			result.Rejections = append(result.Rejections, rej)
			continue
		}
		valid = append(valid, ev)
	}

	// Stage 2: map and chunk. One event's mutations never split across
	// transactions, so a committed transaction can't leave dangling
	// references.
	var chunks []eventChunk
	current := eventChunk{}
	for _, ev := range valid {
		muts := mapEvent(ev)
		if len(current.mutations) > 0 && len(current.mutations)+len(muts) > p.cfg.BatchSize {
			chunks = append(chunks, current)
			current = eventChunk{}
		}
		current.events = append(current.events, ev)
		current.mutations = append(current.mutations, muts...)
	}
	if len(current.mutations) > 0 {
		chunks = append(chunks, current)
	}

	// Stage 3: batch-write with bounded concurrency.
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)

	for _, chunk := range chunks {
		g.Go(func() error {
			if p.limiter != nil {
				if err := p.limiter.Wait(gctx); err != nil {
					return err
				}
			}

			err := retry(gctx, p.cfg.Retry, p.isTransient, func(ctx context.Context) error {
				_, err := p.store.RunWriteTransaction(ctx, chunk.mutations)
				return err
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				reason := ReasonCommitRejected
				if p.isTransient(err) {
					reason = ReasonStoreUnavailable
				}
				p.logger.Warn("sub-batch commit failed",
					"events", len(chunk.events),
					"mutations", len(chunk.mutations),
					"reason", reason,
					"error", err)
				for _, ev := range chunk.events {
					result.Rejections = append(result.Rejections, Rejection{
						Index:   ev.index,
						EventID: ev.id,
						Reason:  reason,
					})
				}
				return nil
			}
			result.Accepted += len(chunk.events)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, fmt.Errorf("ingest aborted: %w", err)
	}

	sort.Slice(result.Rejections, func(i, j int) bool {
		return result.Rejections[i].Index < result.Rejections[j].Index
	})
	result.Rejected = len(result.Rejections)

	version, err := p.store.CurrentGraphVersion(ctx)
	if err != nil {
		return result, fmt.Errorf("read graph version: %w", err)
	}
	result.GraphVersion = version

	p.logger.Info("batch ingested",
		"accepted", result.Accepted,
		"rejected", result.Rejected,
		"graph_version", result.GraphVersion)
	return result, nil
}

// isTransient reports whether a commit error is worth retrying. Validation
// failures from the graph model are permanent; engine failures are not.
func (p *Pipeline) isTransient(err error) bool {
	return errors.Is(err, store.ErrStoreUnavailable)
}
