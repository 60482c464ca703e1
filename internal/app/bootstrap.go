// Package app bootstraps apitap: it loads configuration, derives the
// machine key, and wires every component together for the CLI and the
// MCP server.
package app

import (
	"fmt"

	"github.com/spf13/afero"

	"apitap/internal/api"
	"apitap/internal/browse"
	"apitap/internal/capture"
	"apitap/internal/config"
	"apitap/internal/content"
	"apitap/internal/credstore"
	"apitap/internal/discovery"
	"apitap/internal/machinecrypto"
	"apitap/internal/refresh"
	"apitap/internal/replay"
	"apitap/internal/session"
	"apitap/internal/skill"
	"apitap/internal/ssrf"
	"apitap/internal/verifier"
	"apitap/pkg/logging"
)

// Options configure the bootstrap.
type Options struct {
	// DataPath overrides the data directory; empty means the default
	// resolution (APITAP_DIR, then ~/.apitap).
	DataPath string
	// ToolVersion is stamped into generated skill files.
	ToolVersion string
	// NewBrowser supplies the live-capture browser adapter; nil leaves
	// live capture and browser refresh unavailable.
	NewBrowser func() api.Browser
	// ForceHeaded makes capture browsers run with a visible window
	// regardless of configuration.
	ForceHeaded bool
}

// Application holds the wired component graph.
type Application struct {
	Config    config.Config
	Skills    *skill.Store
	Creds     *credstore.Store
	Validator *ssrf.Validator
	Verifier  *verifier.Verifier
	Refresher *refresh.Orchestrator
	Handoff   *refresh.Handoff
	Engine    *replay.Engine
	Cache     *session.Cache
	Captures  *session.Table
	Capture   *capture.Controller
	Browse    *browse.Orchestrator
	Discovery api.Discovery
	Content   api.ContentReader
}

// NewApplication wires all components from configuration.
func NewApplication(opts Options) (*Application, error) {
	dataPath := opts.DataPath
	if dataPath == "" {
		dataPath = config.GetDefaultDataPathOrPanic()
	}
	cfg, err := config.LoadConfig(dataPath)
	if err != nil {
		return nil, fmt.Errorf("loading configuration: %w", err)
	}

	fs := afero.NewOsFs()
	cipher := machinecrypto.New()

	skills := skill.NewStore(fs, cfg.SkillsDir, cipher)
	creds := credstore.NewStore(fs, cfg.CredentialsDir, cipher)
	validator := ssrf.New()

	refresher := refresh.New(creds, opts.NewBrowser)
	if cfg.Refresh.Timeout > 0 {
		refresher.SetTimeout(cfg.Refresh.Timeout)
	}

	engine := replay.NewEngine(skills, creds, validator, refresher)
	v := verifier.New(validator)
	prober := discovery.New(validator, opts.ToolVersion)
	cache := session.NewCache()

	captures := session.NewTable(nil)
	if cfg.Capture.IdleTimeout > 0 {
		captures.SetIdleTimeout(cfg.Capture.IdleTimeout)
	}
	headless := cfg.Capture.Headless
	if opts.ForceHeaded {
		headless = false
	}
	controller := capture.NewController(captures, opts.NewBrowser, skills, creds, v, opts.ToolVersion, headless)

	app := &Application{
		Config:    cfg,
		Skills:    skills,
		Creds:     creds,
		Validator: validator,
		Verifier:  v,
		Refresher: refresher,
		Handoff:   refresh.NewHandoff(creds, opts.NewBrowser),
		Engine:    engine,
		Cache:     cache,
		Captures:  captures,
		Capture:   controller,
		Browse:    browse.New(cache, skills, prober, engine),
		Discovery: prober,
		Content:   content.New(validator),
	}
	logging.Debug("app", "Bootstrapped with data path %s", dataPath)
	return app, nil
}
