// Package worker implements the per-URL fetch pipeline:
// resolve, retrieve, validate, dedup and persist.
package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/imagefetch/internal/ingest"
	"github.com/JakeFAU/imagefetch/internal/metrics"
)

// DefaultMaxCandidates bounds how many disambiguated names are tried per image.
const DefaultMaxCandidates = 32

// Config controls Pipeline behavior.
type Config struct {
	// Topic receives a notification per fetched image; empty disables publishing.
	Topic string
	// MaxCandidates bounds the collision walk; zero means DefaultMaxCandidates.
	MaxCandidates int
}

// Pipeline runs single requests through the fetch state machine. It is safe
// for concurrent use; check-then-write on a filename is serialized by a keyed mutex.
type Pipeline struct {
	fetcher   ingest.Fetcher
	store     ingest.Store
	hasher    ingest.Hasher
	publisher ingest.Publisher
	clock     ingest.Clock
	locks     *ingest.KeyedMutex
	cfg       Config
	logger    *zap.Logger
}

var _ ingest.Processor = (*Pipeline)(nil)

// New constructs a Pipeline. publisher may be nil.
func New(
	fetcher ingest.Fetcher,
	store ingest.Store,
	hasher ingest.Hasher,
	publisher ingest.Publisher,
	clock ingest.Clock,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	return &Pipeline{
		fetcher:   fetcher,
		store:     store,
		hasher:    hasher,
		publisher: publisher,
		clock:     clock,
		locks:     ingest.NewKeyedMutex(),
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// Process fetches one URL and returns its outcome. It never panics on bad
// input and never returns an error; failures are folded into the Outcome.
// A ctx that is already done yields Failed(canceled) without a fetch; once
// the fetch is issued it runs to completion, bounded by the fetcher timeout.
func (p *Pipeline) Process(ctx context.Context, req ingest.FetchRequest) ingest.Outcome {
	start := p.clock.Now()
	outcome := p.process(ctx, req)
	outcome.Duration = p.clock.Now().Sub(start)
	p.record(req, outcome)
	return outcome
}

func (p *Pipeline) process(ctx context.Context, req ingest.FetchRequest) ingest.Outcome {
	name := ingest.Resolve(req.URL)
	if err := req.Validate(); err != nil {
		return ingest.Failed(req.URL, err)
	}
	if err := ctx.Err(); err != nil {
		return ingest.Failed(req.URL, fmt.Errorf("%w: %w", ingest.ErrCanceled, err))
	}
	ctx = ingest.Detach(ctx)

	content, err := p.retrieve(ctx, req)
	if err != nil {
		return ingest.Failed(req.URL, err)
	}
	if !ingest.IsImage(content.ContentType) {
		return ingest.SkippedNotImage(req.URL, content.ContentType)
	}

	name = name.WithContentType(content.ContentType)
	return p.persist(ctx, req, name, content)
}

func (p *Pipeline) retrieve(ctx context.Context, req ingest.FetchRequest) (ingest.FetchedContent, error) {
	resp, err := p.fetcher.Fetch(ctx, req)
	if err != nil {
		return ingest.FetchedContent{}, fmt.Errorf("retrieve: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return ingest.FetchedContent{}, &ingest.StatusError{URL: req.URL, StatusCode: resp.StatusCode}
	}
	if declared := resp.Headers.Get("Content-Length"); declared != "" {
		if n, parseErr := strconv.ParseInt(declared, 10, 64); parseErr == nil && n > int64(len(resp.Body)) {
			return ingest.FetchedContent{}, fmt.Errorf("%w: %w: received %d of %d bytes",
				ingest.ErrNetwork, ingest.ErrTruncated, len(resp.Body), n)
		}
	}

	hash, err := p.hasher.Hash(resp.Body)
	if err != nil {
		return ingest.FetchedContent{}, fmt.Errorf("%w: hash body: %w", ingest.ErrStore, err)
	}
	finalURL := resp.URL
	if finalURL == "" {
		finalURL = req.URL
	}
	return ingest.FetchedContent{
		Body:        resp.Body,
		ContentType: resp.Headers.Get("Content-Type"),
		ContentHash: hash,
		StatusCode:  resp.StatusCode,
		FinalURL:    finalURL,
		Duration:    resp.Duration,
	}, nil
}

// persist walks the candidate names for content. Every candidate lock taken
// stays held until the outcome is decided; candidates grow strictly longer,
// so two pipelines can never wait on each other in a cycle.
func (p *Pipeline) persist(
	ctx context.Context,
	req ingest.FetchRequest,
	name ingest.ResolvedName,
	content ingest.FetchedContent,
) ingest.Outcome {
	var unlocks []func()
	defer func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}()

	for attempt := 0; attempt < p.cfg.MaxCandidates; attempt++ {
		candidate := ingest.Disambiguate(name.Filename, content.ContentHash, attempt)
		unlocks = append(unlocks, p.locks.Lock(candidate))

		exists, err := p.store.Exists(ctx, candidate)
		if err != nil {
			return ingest.Failed(req.URL, p.storeErr("exists", candidate, err))
		}
		if !exists {
			location, putErr := p.store.Put(ctx, candidate, content.ContentType, content.Body)
			if putErr == nil {
				entry := ingest.StoreEntry{Filename: candidate, ContentHash: content.ContentHash}
				p.publish(ctx, req, entry, location, content)
				return ingest.Fetched(req.URL, entry, location, content)
			}
			// Another writer outside this process won the name; compare against it.
			if !errors.Is(putErr, ingest.ErrExists) {
				return ingest.Failed(req.URL, p.storeErr("put", candidate, putErr))
			}
		}

		stored, err := p.storedHash(ctx, candidate)
		if err != nil {
			return ingest.Failed(req.URL, p.storeErr("read", candidate, err))
		}
		if stored == content.ContentHash {
			return ingest.SkippedDuplicate(req.URL, ingest.StoreEntry{Filename: candidate, ContentHash: stored})
		}
		p.logger.Debug("filename taken by different content",
			zap.String("url", req.URL),
			zap.String("filename", candidate),
			zap.Int("attempt", attempt),
		)
	}
	return ingest.Failed(req.URL, fmt.Errorf("%w: no free name for %q after %d candidates",
		ingest.ErrStore, name.Filename, p.cfg.MaxCandidates))
}

func (p *Pipeline) storedHash(ctx context.Context, name string) (string, error) {
	rc, err := p.store.Open(ctx, name)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := rc.Close(); cerr != nil {
			p.logger.Warn("close stored object failed", zap.String("filename", name), zap.Error(cerr))
		}
	}()
	return p.hasher.HashReader(rc)
}

func (p *Pipeline) storeErr(op, name string, err error) error {
	if errors.Is(err, ingest.ErrStore) || errors.Is(err, ingest.ErrCanceled) {
		return fmt.Errorf("%s %s: %w", op, name, err)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s %s: %w", ingest.ErrCanceled, op, name, err)
	}
	return fmt.Errorf("%w: %s %s: %w", ingest.ErrStore, op, name, err)
}

func (p *Pipeline) publish(
	ctx context.Context,
	req ingest.FetchRequest,
	entry ingest.StoreEntry,
	location string,
	content ingest.FetchedContent,
) {
	if p.cfg.Topic == "" || p.publisher == nil {
		return
	}
	payload := map[string]any{
		"batch_id":     req.BatchID,
		"url":          req.URL,
		"filename":     entry.Filename,
		"uri":          location,
		"content_hash": entry.ContentHash,
		"content_type": content.ContentType,
		"bytes":        len(content.Body),
		"timestamp":    p.clock.Now().UTC().Format(time.RFC3339),
	}
	id, err := p.publisher.Publish(ctx, p.cfg.Topic, payload)
	if err != nil {
		p.logger.Warn("publish fetched image failed",
			zap.String("url", req.URL),
			zap.String("topic", p.cfg.Topic),
			zap.Error(err),
		)
		return
	}
	p.logger.Debug("fetched image published",
		zap.String("url", req.URL),
		zap.String("message_id", id),
	)
}

func (p *Pipeline) record(req ingest.FetchRequest, outcome ingest.Outcome) {
	metrics.ObserveOutcome(req.URL, string(outcome.Kind), string(outcome.ErrorKind), outcome.Bytes)
	if outcome.Kind == ingest.OutcomeFetched || outcome.Kind == ingest.OutcomeSkippedDuplicate {
		metrics.ObserveFetchDuration(req.URL, outcome.Duration)
	}

	fields := []zap.Field{
		zap.String("batch_id", req.BatchID),
		zap.String("url", req.URL),
		zap.String("outcome", string(outcome.Kind)),
		zap.Duration("duration", outcome.Duration),
	}
	switch outcome.Kind {
	case ingest.OutcomeFetched:
		p.logger.Info("image fetched", append(fields,
			zap.String("filename", outcome.Filename),
			zap.String("path", outcome.Path),
			zap.Int64("bytes", outcome.Bytes),
		)...)
	case ingest.OutcomeSkippedDuplicate:
		p.logger.Info("duplicate image skipped", append(fields, zap.String("filename", outcome.Filename))...)
	case ingest.OutcomeSkippedNotImage:
		p.logger.Info("non-image content skipped", append(fields, zap.String("content_type", outcome.ContentType))...)
	default:
		p.logger.Warn("fetch failed", append(fields,
			zap.String("error_kind", string(outcome.ErrorKind)),
			zap.String("error", outcome.Message),
		)...)
	}
}
