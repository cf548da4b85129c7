// Package resolver is the resolution orchestrator: it fans out to all source
// adapters, ranks the combined candidates, and walks the ranked list until
// one candidate materializes into a concrete playable URL.
package resolver

import (
	"context"
	"sync"
	"time"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/provider"
	"streamgate/pkg/scoring"
	"streamgate/pkg/stream"
)

// state tracks the orchestrator phase, for logging and tests.
type state string

const (
	stateInit          state = "INIT"
	stateQuerying      state = "QUERYING"
	stateScoring       state = "SCORING"
	stateMaterializing state = "MATERIALIZING"
	stateDone          state = "DONE"
	stateFailed        state = "FAILED"
)

// Materializer is the caching-service surface the orchestrator needs to turn
// a hash-addressable candidate into a playable URL. Implemented by the
// debrid client; nil when no caching service is configured.
type Materializer interface {
	CheckInstant(ctx context.Context, hashes []string) (map[string]bool, error)
	RequestLink(ctx context.Context, hash string) (string, error)
	CreateHLS(ctx context.Context, hash string) (string, error)
	QueueDownload(ctx context.Context, hash string)
}

// Resolution is the successful outcome of one orchestrator run.
type Resolution struct {
	URL          string
	Title        string
	Quality      stream.Quality
	Format       stream.Format
	Source       string
	HLS          bool
	Alternatives []stream.Candidate
	Results      []stream.ProviderResult
}

// Resolver runs the resolution state machine.
type Resolver struct {
	providers       []provider.Provider
	materializer    Materializer
	policy          config.ScoringConfig
	providerTimeout time.Duration
	debridTimeout   time.Duration
}

// New creates a Resolver. Provider order is significant: it defines the
// discovery order used for score tie-breaks.
func New(providers []provider.Provider, mat Materializer, cfg *config.Config) *Resolver {
	return &Resolver{
		providers:       providers,
		materializer:    mat,
		policy:          cfg.Scoring,
		providerTimeout: time.Duration(cfg.Timeouts.ProviderSeconds) * time.Second,
		debridTimeout:   time.Duration(cfg.Timeouts.DebridSeconds) * time.Second,
	}
}

// Resolve turns a content key into a playable URL. Adapter failures are
// recovered locally; only the complete absence of a viable candidate
// (ErrNoCandidates) or failure of every chosen materialization path
// (MaterializationError) is surfaced.
func (r *Resolver) Resolve(ctx context.Context, key stream.ContentKey, preferred stream.Quality) (*Resolution, error) {
	st := stateInit
	start := time.Now()
	logger.Debug("Resolution started", "key", key.String())

	st = stateQuerying
	results := r.query(ctx, key)

	var candidates []stream.Candidate
	for _, res := range results {
		if res.Err != nil {
			logger.Warn("Provider query failed", "source", res.Source, "err", res.Err)
			continue
		}
		candidates = append(candidates, res.Candidates...)
	}

	st = stateScoring
	r.annotateCacheState(ctx, candidates)
	ranked := scoring.Rank(candidates, r.policy, preferred)
	if len(ranked) == 0 {
		st = stateFailed
		logger.Info("Resolution failed", "key", key.String(), "state", string(st), "reason", "no candidates", "elapsed", time.Since(start))
		return nil, ErrNoCandidates
	}

	st = stateMaterializing
	var lastErr *MaterializationError
	for i := range ranked {
		cand := ranked[i]
		url, hls, err := r.materialize(ctx, cand)
		if err == nil {
			st = stateDone
			res := &Resolution{
				URL:          url,
				Title:        cand.Title,
				Quality:      cand.Quality,
				Format:       cand.Format,
				Source:       cand.Source,
				HLS:          hls,
				Alternatives: alternatives(ranked, i),
				Results:      results,
			}
			logger.Info("Resolution done", "key", key.String(), "source", res.Source, "quality", res.Quality, "format", res.Format, "elapsed", time.Since(start))
			return res, nil
		}
		if err == errSkip {
			continue
		}
		logger.Warn("Materialization failed, trying next candidate", "source", cand.Source, "title", cand.Title, "err", err)
		lastErr = &MaterializationError{Source: cand.Source, Title: cand.Title, Err: err}
	}

	st = stateFailed
	logger.Info("Resolution failed", "key", key.String(), "state", string(st), "elapsed", time.Since(start))
	if lastErr != nil {
		return nil, lastErr
	}
	return nil, ErrNoCandidates
}

// query fans out to all providers concurrently and joins on completion.
// Results come back in provider order so the scorer's tie-break on
// discovery order stays deterministic.
func (r *Resolver) query(ctx context.Context, key stream.ContentKey) []stream.ProviderResult {
	results := make([]stream.ProviderResult, len(r.providers))
	var wg sync.WaitGroup

	for i, p := range r.providers {
		wg.Add(1)
		go func(i int, p provider.Provider) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, r.providerTimeout)
			defer cancel()
			results[i] = p.FetchCandidates(pctx, key)
		}(i, p)
	}

	wg.Wait()
	return results
}

// annotateCacheState runs the bulk instant-availability check over all
// hash-addressable candidates whose cache state is still unknown. A failed
// check leaves states untouched; it never fails the resolution.
func (r *Resolver) annotateCacheState(ctx context.Context, candidates []stream.Candidate) {
	if r.materializer == nil {
		return
	}

	var hashes []string
	seen := make(map[string]bool)
	for i := range candidates {
		h := candidates[i].InfoHash
		if h != "" && !cacheKnown(candidates[i].Cache) && !seen[h] {
			seen[h] = true
			hashes = append(hashes, h)
		}
	}
	if len(hashes) == 0 {
		return
	}

	cctx, cancel := context.WithTimeout(ctx, r.debridTimeout)
	defer cancel()
	cached, err := r.materializer.CheckInstant(cctx, hashes)
	if err != nil {
		logger.Warn("Instant availability check failed", "err", err)
		return
	}

	for i := range candidates {
		h := candidates[i].InfoHash
		if h == "" || cacheKnown(candidates[i].Cache) {
			continue
		}
		if isCached, ok := cached[h]; ok {
			if isCached {
				candidates[i].Cache = stream.CacheCached
			} else {
				candidates[i].Cache = stream.CacheUncached
			}
		}
	}
}

// cacheKnown reports whether a cache state is already settled. Adapters may
// leave the field at its zero value, which means the same as unknown.
func cacheKnown(c stream.CacheState) bool {
	return c == stream.CacheCached || c == stream.CacheUncached
}

// materialize turns one ranked candidate into a playable URL.
//
// Ready URLs pass through untouched. Cached hashes go through the caching
// service: web-playable containers get a direct link, everything else gets
// an HLS transcode job. Hashes not confirmed cached are queued best-effort
// and skipped so the next-best candidate gets a chance.
func (r *Resolver) materialize(ctx context.Context, cand stream.Candidate) (string, bool, error) {
	if cand.URL != "" {
		return cand.URL, cand.Format == stream.FormatHLS, nil
	}

	if r.materializer == nil {
		return "", false, errSkip
	}

	if cand.Cache != stream.CacheCached {
		// Never block a request on a full download. Queue it for future
		// availability and move on.
		go func(hash string) {
			qctx, cancel := context.WithTimeout(context.Background(), r.debridTimeout)
			defer cancel()
			r.materializer.QueueDownload(qctx, hash)
		}(cand.InfoHash)
		return "", false, errSkip
	}

	mctx, cancel := context.WithTimeout(ctx, r.debridTimeout)
	defer cancel()

	if cand.Format == stream.FormatMP4 {
		url, err := r.materializer.RequestLink(mctx, cand.InfoHash)
		if err != nil {
			return "", false, err
		}
		return url, false, nil
	}

	// mkv and unknown containers need the transcode path to be web-playable.
	url, err := r.materializer.CreateHLS(mctx, cand.InfoHash)
	if err != nil {
		return "", false, err
	}
	return url, true, nil
}

// alternatives returns the ranked list minus the winning entry, capped so
// responses stay small.
func alternatives(ranked []stream.Candidate, winner int) []stream.Candidate {
	const maxAlternatives = 10
	out := make([]stream.Candidate, 0, maxAlternatives)
	for i := range ranked {
		if i == winner {
			continue
		}
		out = append(out, ranked[i])
		if len(out) >= maxAlternatives {
			break
		}
	}
	return out
}
