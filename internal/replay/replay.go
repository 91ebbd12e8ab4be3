// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package replay feeds stored messages back through the ingestion
// pipeline. Each file in a directory is either a JSON envelope as posted by
// the MTA or a raw RFC 5322 message (.eml).
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/elektrine/ingestion/internal/models"
	"github.com/elektrine/ingestion/internal/pipeline"
)

// Ingestor processes one envelope. Implemented by pipeline.Pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, env *models.InboundEnvelope) pipeline.Outcome
}

// Request defines the scope of a replay run.
type Request struct {
	Dir   string
	Limit int // 0 means no limit
	// RcptTo overrides the envelope recipient of every replayed message.
	RcptTo string
}

// Result summarises a completed replay run.
type Result struct {
	Files      int            `json:"files"`
	Accepted   int            `json:"accepted"`
	Duplicates int            `json:"duplicates"`
	Skipped    int            `json:"skipped"`
	Rejected   int            `json:"rejected"`
	Errors     int            `json:"errors"`
	Reasons    map[string]int `json:"reasons,omitempty"`
	Elapsed    time.Duration  `json:"elapsed_ns"`
}

// Runner replays message files.
type Runner struct {
	ingest Ingestor
	delay  time.Duration
}

// NewRunner creates a Runner. delay is waited between files.
func NewRunner(ingest Ingestor, delay time.Duration) *Runner {
	return &Runner{ingest: ingest, delay: delay}
}

// Run replays every .json and .eml file in req.Dir in name order.
// Unreadable files are counted as errors and skipped.
func (r *Runner) Run(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	files, err := listFiles(req.Dir)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(files) > req.Limit {
		files = files[:req.Limit]
	}

	slog.Info("starting replay", "dir", req.Dir, "files", len(files))

	result := &Result{Reasons: map[string]int{}}
	for i, path := range files {
		if i > 0 && r.delay > 0 {
			select {
			case <-ctx.Done():
				return result, ctx.Err()
			case <-time.After(r.delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}

		result.Files++
		env, err := ReadFile(path)
		if err != nil {
			slog.Warn("replay: unreadable file", "path", path, "error", err)
			result.Errors++
			continue
		}
		if req.RcptTo != "" {
			env.RcptTo = req.RcptTo
		}

		out := r.ingest.Ingest(ctx, env)
		result.record(out)
		slog.Debug("replayed file", "path", path, "status", out.Status, "reason", out.Reason)
	}

	result.Elapsed = time.Since(start)
	slog.Info("replay complete",
		"files", result.Files,
		"accepted", result.Accepted,
		"duplicates", result.Duplicates,
		"skipped", result.Skipped,
		"rejected", result.Rejected,
		"errors", result.Errors,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

func (res *Result) record(out pipeline.Outcome) {
	switch out.Status {
	case pipeline.StatusAccepted:
		res.Accepted++
	case pipeline.StatusDuplicate:
		res.Duplicates++
	case pipeline.StatusSkipped:
		res.Skipped++
	case pipeline.StatusRejected:
		res.Rejected++
	}
	if out.Reason != "" {
		res.Reasons[out.Reason]++
	}
}

func listFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read replay dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".eml":
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(files)
	return files, nil
}

// ReadFile loads one envelope from a .json or .eml file.
func ReadFile(path string) (*models.InboundEnvelope, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".eml") {
		return ParseEML(f)
	}
	return models.DecodeEnvelope(f)
}
