// Package browse answers "get me data from this URL" with whatever is
// already known: a cached or stored skill file, or an on-the-fly
// discovery probe. It never opens a browser itself; when nothing
// replayable exists it tells the caller to capture.
package browse

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"apitap/internal/api"
	"apitap/internal/apiterr"
	"apitap/internal/replay"
	"apitap/internal/session"
	"apitap/internal/skill"
	"apitap/pkg/logging"
)

// SuggestionCapture tells the caller the domain needs a live capture.
const SuggestionCapture = "capture_needed"

// Result is the outcome of a browse attempt.
type Result struct {
	Success    bool            `json:"success"`
	Domain     string          `json:"domain"`
	Source     string          `json:"source,omitempty"`
	EndpointID string          `json:"endpointId,omitempty"`
	Outcome    *replay.Outcome `json:"outcome,omitempty"`
	Discovery  *api.DiscoveryResult `json:"discovery,omitempty"`
	Suggestion string          `json:"suggestion,omitempty"`
}

// Orchestrator resolves a URL to a replayable endpoint.
type Orchestrator struct {
	cache     *session.Cache
	skills    *skill.Store
	discovery api.Discovery
	engine    *replay.Engine
}

// New creates an Orchestrator. discovery may be nil.
func New(cache *session.Cache, skills *skill.Store, discovery api.Discovery, engine *replay.Engine) *Orchestrator {
	return &Orchestrator{cache: cache, skills: skills, discovery: discovery, engine: engine}
}

// Browse resolves the URL's domain to a skill file, picks the most
// replayable endpoint, and replays it.
func (o *Orchestrator) Browse(ctx context.Context, rawURL string) (*Result, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return nil, &apiterr.ValidationError{Reason: "not a valid URL: " + rawURL}
	}
	domain := strings.ToLower(u.Hostname())
	result := &Result{Domain: domain}

	f, source := o.resolve(ctx, domain, rawURL, result)
	if f == nil || len(f.Endpoints) == 0 {
		result.Suggestion = SuggestionCapture
		return result, nil
	}
	result.Source = source

	ep := bestEndpoint(f)
	if ep == nil {
		result.Suggestion = SuggestionCapture
		return result, nil
	}
	result.EndpointID = ep.ID

	outcome, err := o.engine.DoFile(ctx, f, replay.Request{Domain: domain, EndpointID: ep.ID})
	if err != nil {
		return nil, err
	}
	result.Outcome = outcome
	result.Success = outcome.AuthError == nil && outcome.Status < 400
	return result, nil
}

// resolve walks the lookup chain: session cache, disk, discovery.
func (o *Orchestrator) resolve(ctx context.Context, domain, rawURL string, result *Result) (*skill.File, string) {
	if entry := o.cache.Get(domain); entry != nil {
		return entry.File, entry.Source
	}

	f, err := o.skills.Load(domain)
	if err == nil {
		o.cache.Put(domain, f, session.SourceDisk)
		return f, session.SourceDisk
	}
	var notFound *apiterr.NotFoundError
	if !errors.As(err, &notFound) {
		logging.Warn("browse", "Loading skill file for %s: %v", domain, err)
	}

	if o.discovery == nil {
		return nil, ""
	}
	discovered, err := o.discovery.Discover(ctx, rawURL)
	if err != nil {
		logging.Warn("browse", "Discovery probe for %s: %v", domain, err)
		return nil, ""
	}
	result.Discovery = discovered
	if discovered.Confidence == api.ConfidenceLow || discovered.SkillFile == nil {
		return nil, ""
	}
	o.cache.Put(domain, discovered.SkillFile, session.SourceDiscovered)
	return discovered.SkillFile, session.SourceDiscovered
}

// autoTierRank orders the tiers eligible for automatic replay: green
// beats yellow beats unverified. Orange and red endpoints are never
// auto-replayed.
var autoTierRank = map[skill.Tier]int{
	skill.TierGreen:   3,
	skill.TierYellow:  2,
	skill.TierUnknown: 1,
}

// bestEndpoint prefers greener tiers, GET over mutating methods, then
// the shortest path. Unknown-tier endpoints (discovery skeletons) are
// the fallback when nothing verified exists.
func bestEndpoint(f *skill.File) *skill.Endpoint {
	var best *skill.Endpoint
	for i := range f.Endpoints {
		ep := &f.Endpoints[i]
		if autoTierRank[ep.Replayability.Tier] == 0 {
			continue
		}
		if best == nil || better(ep, best) {
			best = ep
		}
	}
	return best
}

func better(a, b *skill.Endpoint) bool {
	if ra, rb := autoTierRank[a.Replayability.Tier], autoTierRank[b.Replayability.Tier]; ra != rb {
		return ra > rb
	}
	aGet, bGet := a.Method == http.MethodGet, b.Method == http.MethodGet
	if aGet != bGet {
		return aGet
	}
	return len(a.Path) < len(b.Path)
}
