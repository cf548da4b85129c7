// Package preload resolves content ahead of playback so the first play
// request lands on a warm session. Work runs in small bounded batches to
// keep upstream providers from seeing a request storm.
package preload

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"streamgate/pkg/config"
	"streamgate/pkg/logger"
	"streamgate/pkg/session"
	"streamgate/pkg/stream"
)

// EpisodeLister expands a series key into the episodes that exist around it.
// Implemented by the TMDB client; nil disables window expansion.
type EpisodeLister interface {
	SeasonEpisodes(ctx context.Context, contentID string, season int) ([]int, error)
}

// ResolveFunc resolves one content key into a session, deduplicated against
// in-flight and fresh sessions by the caller.
type ResolveFunc func(ctx context.Context, key stream.ContentKey) (*session.Session, error)

// Result summarises one preload run.
type Result struct {
	Requested     int `json:"requested"`
	Resolved      int `json:"resolved"`
	AlreadyCached int `json:"alreadyCached"`
	Failed        int `json:"failed"`
}

// Preloader warms sessions for upcoming content.
type Preloader struct {
	sessions    *session.Store
	resolve     ResolveFunc
	episodes    EpisodeLister
	concurrency int
	batchPause  time.Duration
	window      int
}

func New(sessions *session.Store, resolve ResolveFunc, episodes EpisodeLister, cfg config.PreloadConfig) *Preloader {
	return &Preloader{
		sessions:    sessions,
		resolve:     resolve,
		episodes:    episodes,
		concurrency: cfg.Concurrency,
		batchPause:  time.Duration(cfg.BatchPauseMillis) * time.Millisecond,
		window:      cfg.EpisodeWindow,
	}
}

// Run resolves every key in the expanded preload set. Failures are counted,
// never propagated: one dead episode must not stop the rest of the window.
func (p *Preloader) Run(ctx context.Context, keys []stream.ContentKey) Result {
	keys = p.expand(ctx, keys)

	var resolved, cached, failed atomic.Int64

	for start := 0; start < len(keys); start += p.concurrency {
		end := start + p.concurrency
		if end > len(keys) {
			end = len(keys)
		}

		g, gctx := errgroup.WithContext(ctx)
		for _, key := range keys[start:end] {
			key := key
			g.Go(func() error {
				if p.sessions.Fresh(key) != nil {
					cached.Add(1)
					return nil
				}
				if _, err := p.resolve(gctx, key); err != nil {
					logger.Debug("Preload resolution failed", "key", key.String(), "err", err)
					failed.Add(1)
					return nil
				}
				resolved.Add(1)
				return nil
			})
		}
		g.Wait()

		if end < len(keys) && p.batchPause > 0 {
			select {
			case <-ctx.Done():
				return result(len(keys), &resolved, &cached, &failed)
			case <-time.After(p.batchPause):
			}
		}
	}

	res := result(len(keys), &resolved, &cached, &failed)
	logger.Info("Preload run complete", "requested", res.Requested, "resolved", res.Resolved, "cached", res.AlreadyCached, "failed", res.Failed)
	return res
}

func result(requested int, resolved, cached, failed *atomic.Int64) Result {
	return Result{
		Requested:     requested,
		Resolved:      int(resolved.Load()),
		AlreadyCached: int(cached.Load()),
		Failed:        int(failed.Load()),
	}
}

// expand widens each episodic key into the next episodes of its season, up
// to the configured window, deduplicating the combined set.
func (p *Preloader) expand(ctx context.Context, keys []stream.ContentKey) []stream.ContentKey {
	seen := make(map[string]bool)
	var out []stream.ContentKey

	add := func(key stream.ContentKey) {
		if !seen[key.String()] {
			seen[key.String()] = true
			out = append(out, key)
		}
	}

	for _, key := range keys {
		add(key)
		if p.episodes == nil || p.window <= 0 || !key.Episodic() {
			continue
		}

		episodes, err := p.episodes.SeasonEpisodes(ctx, key.ContentID, key.Season)
		if err != nil {
			logger.Debug("Episode window lookup failed", "key", key.String(), "err", err)
			continue
		}
		added := 0
		for _, ep := range episodes {
			if ep <= key.Episode {
				continue
			}
			next := key
			next.Episode = ep
			add(next)
			added++
			if added >= p.window {
				break
			}
		}
	}
	return out
}
