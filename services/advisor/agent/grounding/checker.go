// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package grounding verifies that a drafted answer is supported by the
// evidence pool before it is surfaced to the student.
package grounding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/advisor/datatypes"
	"github.com/oceanusXXD/unsw-course-advisor-sub000/services/llm"
)

// defaultVerdictTTL bounds how long a cached grounding verdict stays valid.
// Verdicts depend only on the literal answer text and evidence, but the
// underlying handbook snapshot does change between terms.
const defaultVerdictTTL = 24 * time.Hour

// verdictKeyPrefix is versioned so the cache format can change without
// colliding with old entries.
const verdictKeyPrefix = "advisor:ground:v1:"

var groundingChecks = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "advisor_grounding_checks_total",
	Help: "Grounding checks by outcome (grounded, ungrounded, cached, failed_open, trivial).",
}, []string{"outcome"})

// Checker judges whether an answer is supported by its evidence.
//
// Description:
//
//	An answer drafted with no evidence at all has nothing to contradict,
//	so it passes trivially. Otherwise a strict yes/no LLM check runs, with
//	the verdict cached in BadgerDB keyed by SHA-256 of the literal answer
//	text. Check failure fails open: a synthesis the model just produced
//	from real evidence is more likely grounded than not, and blocking the
//	answer on infrastructure error punishes the student for a transient
//	fault.
//
// Thread Safety: safe for concurrent use.
type Checker struct {
	client llm.Client
	db     *badger.DB
	ttl    time.Duration
	logger *slog.Logger
	tracer trace.Tracer
}

// NewChecker constructs a Checker.
//
// Inputs:
//
//	client - LLM for the yes/no judgment. Must not be nil.
//	db - BadgerDB for verdict caching. Nil disables caching.
//	ttl - Cached verdict lifetime. Zero uses defaultVerdictTTL.
//	logger - Logger for diagnostic output. Nil uses slog.Default().
func NewChecker(client llm.Client, db *badger.DB, ttl time.Duration, logger *slog.Logger) (*Checker, error) {
	if client == nil {
		return nil, fmt.Errorf("llm client must not be nil")
	}
	if ttl <= 0 {
		ttl = defaultVerdictTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Checker{
		client: client,
		db:     db,
		ttl:    ttl,
		logger: logger,
		tracer: otel.Tracer("advisor.agent.grounding"),
	}, nil
}

// Check reports whether the answer is grounded in the evidence.
func (c *Checker) Check(ctx context.Context, answer string, evidence []datatypes.RetrievedDocument) (bool, error) {
	ctx, span := c.tracer.Start(ctx, "Checker.Check",
		trace.WithAttributes(attribute.Int("evidence", len(evidence))))
	defer span.End()

	if len(evidence) == 0 {
		groundingChecks.WithLabelValues("trivial").Inc()
		span.SetAttributes(attribute.Bool("grounded", true), attribute.String("method", "trivial"))
		return true, nil
	}

	key := verdictKey(answer)
	if verdict, hit := c.cachedVerdict(key); hit {
		groundingChecks.WithLabelValues("cached").Inc()
		span.SetAttributes(attribute.Bool("grounded", verdict), attribute.String("method", "cache"))
		return verdict, nil
	}

	grounded, err := c.llmCheck(ctx, answer, evidence)
	if err != nil {
		groundingChecks.WithLabelValues("failed_open").Inc()
		c.logger.Warn("grounding check failed, passing answer through", slog.String("error", err.Error()))
		span.RecordError(err)
		return true, nil
	}

	c.storeVerdict(key, grounded)
	if grounded {
		groundingChecks.WithLabelValues("grounded").Inc()
	} else {
		groundingChecks.WithLabelValues("ungrounded").Inc()
	}
	span.SetAttributes(attribute.Bool("grounded", grounded), attribute.String("method", "llm"))
	return grounded, nil
}

// llmCheck asks the model for a strict yes/no support judgment.
func (c *Checker) llmCheck(ctx context.Context, answer string, evidence []datatypes.RetrievedDocument) (bool, error) {
	var pool strings.Builder
	for i, doc := range evidence {
		fmt.Fprintf(&pool, "[%d] %s\n%s\n\n", i+1, doc.Title, doc.Text)
	}

	messages := []datatypes.Message{
		{
			Role: "system",
			Content: "You verify that an answer to a student's course question is supported by the " +
				"provided evidence. Every factual claim in the answer must appear in or follow " +
				"directly from the evidence. Reply with exactly one word: YES if fully supported, NO otherwise.",
		},
		{
			Role:    "user",
			Content: fmt.Sprintf("Evidence:\n%s\nAnswer:\n%s\n\nIs the answer fully supported?", pool.String(), answer),
		},
	}

	temp := float32(0)
	maxTokens := 4
	reply, err := c.client.Chat(ctx, messages, llm.GenerationParams{Temperature: &temp, MaxTokens: &maxTokens})
	if err != nil {
		return false, fmt.Errorf("grounding judgment: %w", err)
	}
	return strings.HasPrefix(strings.ToUpper(strings.TrimSpace(reply)), "YES"), nil
}

// cachedVerdict looks up a verdict. A miss, an expired key, or any storage
// error all report no hit.
func (c *Checker) cachedVerdict(key string) (verdict, hit bool) {
	if c.db == nil {
		return false, false
	}
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			verdict = len(val) == 1 && val[0] == '1'
			hit = true
			return nil
		})
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		c.logger.Warn("verdict cache read failed", slog.String("error", err.Error()))
	}
	return verdict, hit
}

// storeVerdict persists a verdict with TTL. Persistence failure is non-fatal;
// the verdict is simply recomputed next time.
func (c *Checker) storeVerdict(key string, grounded bool) {
	if c.db == nil {
		return
	}
	val := []byte("0")
	if grounded {
		val = []byte("1")
	}
	err := c.db.Update(func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val).WithTTL(c.ttl)
		return txn.SetEntry(entry)
	})
	if err != nil {
		c.logger.Warn("verdict cache write failed", slog.String("error", err.Error()))
	}
}

// verdictKey hashes the literal answer text into the cache key.
func verdictKey(answer string) string {
	sum := sha256.Sum256([]byte(answer))
	return verdictKeyPrefix + hex.EncodeToString(sum[:])
}
