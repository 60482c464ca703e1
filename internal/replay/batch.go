package replay

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"apitap/internal/skill"
)

// DefaultBatchConcurrency bounds parallel replays in a batch.
const DefaultBatchConcurrency = 4

// BatchResult pairs one request's outcome with its error, keeping the
// result array aligned with the request array.
type BatchResult struct {
	Outcome *Outcome `json:"outcome,omitempty"`
	Error   string   `json:"error,omitempty"`
}

// DoBatch replays several endpoints concurrently. Each request is
// isolated: one failure never aborts the others. Skill files are read
// from disk once per domain for the whole batch.
func (e *Engine) DoBatch(ctx context.Context, reqs []Request, concurrency int) []BatchResult {
	if concurrency <= 0 {
		concurrency = DefaultBatchConcurrency
	}

	cache := &fileCache{skills: e.skills, files: map[string]cachedFile{}}
	results := make([]BatchResult, len(reqs))

	g := &errgroup.Group{}
	g.SetLimit(concurrency)
	for i := range reqs {
		i := i
		g.Go(func() error {
			outcome, err := e.do(ctx, reqs[i], cache.load)
			if err != nil {
				results[i] = BatchResult{Error: err.Error()}
				return nil
			}
			results[i] = BatchResult{Outcome: outcome}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

type cachedFile struct {
	f   *skill.File
	err error
}

type fileCache struct {
	skills *skill.Store
	mu     sync.Mutex
	files  map[string]cachedFile
}

func (c *fileCache) load(domain string) (*skill.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cached, ok := c.files[domain]; ok {
		return cached.f, cached.err
	}
	f, err := c.skills.Load(domain)
	c.files[domain] = cachedFile{f: f, err: err}
	return f, err
}
