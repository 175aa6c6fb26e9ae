// Package piiguard assembles the sensitive-data classification engine:
// rule registry, evidence collectors, decision fusing, policy
// enforcement, and the transactional governance store, behind one
// constructor.
package piiguard

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/opencatalog/piiguard/api"
	"github.com/opencatalog/piiguard/audit"
	"github.com/opencatalog/piiguard/catalog"
	"github.com/opencatalog/piiguard/connector"
	"github.com/opencatalog/piiguard/detect"
	"github.com/opencatalog/piiguard/events"
	"github.com/opencatalog/piiguard/govstore"
	"github.com/opencatalog/piiguard/lifecycle"
	"github.com/opencatalog/piiguard/mcptools"
	"github.com/opencatalog/piiguard/metrics"
	"github.com/opencatalog/piiguard/policy"
	"github.com/opencatalog/piiguard/rules"
	"github.com/opencatalog/piiguard/scan"
)

// Config configures an Engine.
type Config struct {
	// DataDir holds the embedded database. Ignored when InMemory.
	DataDir string

	// InMemory runs without persistence, for tests and demos.
	InMemory bool

	// RulesFile seeds the registry from a YAML file at startup. Empty
	// seeds the built-in defaults.
	RulesFile string

	// NATSURL enables event publishing when set.
	NATSURL string

	// AuditLogPath enables the JSONL audit trail when set.
	AuditLogPath string

	// SampleLimit and SampleTimeout bound content sampling per column.
	SampleLimit   int
	SampleTimeout time.Duration

	// ScanWorkers bounds concurrent column evaluations per data source.
	ScanWorkers int

	// Catalog supplies column inventory. Defaults to an empty in-memory
	// catalog.
	Catalog catalog.Store

	// Connectors supplies data source access. Defaults to an empty
	// registry; columns without a connector degrade to name evidence.
	Connectors *connector.Registry

	// Recorder overrides the audit sink. Takes precedence over
	// AuditLogPath.
	Recorder audit.Recorder

	Logger *slog.Logger
}

// Engine is the assembled classification engine.
type Engine struct {
	Registry     *rules.Registry
	Store        *govstore.Store
	Catalog      catalog.Store
	Connectors   *connector.Registry
	Orchestrator *scan.Orchestrator
	Lifecycle    *lifecycle.Synchronizer
	Metrics      *metrics.Metrics
	Publisher    *events.Publisher

	db     *badger.DB
	logger *slog.Logger
}

// New builds an engine, opens its database, and seeds the rule registry.
func New(cfg Config) (*Engine, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dbCfg := govstore.DefaultDBConfig(cfg.DataDir)
	if cfg.InMemory {
		dbCfg = govstore.InMemoryDBConfig()
	}
	db, err := govstore.OpenDB(dbCfg, logger)
	if err != nil {
		return nil, err
	}

	registry := rules.NewRegistry(db, logger)
	if err := seedRules(registry, cfg.RulesFile, logger); err != nil {
		db.Close()
		return nil, err
	}

	store := govstore.NewStore(db, logger)

	cat := cfg.Catalog
	if cat == nil {
		cat = catalog.NewMemoryStore()
	}
	connectors := cfg.Connectors
	if connectors == nil {
		connectors = connector.NewRegistry()
	}

	recorder := cfg.Recorder
	if recorder == nil {
		if cfg.AuditLogPath != "" {
			recorder = audit.NewFileRecorder(cfg.AuditLogPath, 0, 0)
		} else {
			recorder = audit.Discard{}
		}
	}

	publisher, err := events.NewPublisher(cfg.NATSURL, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	m := metrics.New()

	var contentOpts []detect.ContentOption
	if cfg.SampleLimit > 0 {
		contentOpts = append(contentOpts, detect.WithSampleLimit(cfg.SampleLimit))
	}
	if cfg.SampleTimeout > 0 {
		contentOpts = append(contentOpts, detect.WithSampleTimeout(cfg.SampleTimeout))
	}
	content := detect.NewContentCollector(connectors, logger, contentOpts...)

	verifier := policy.NewConnectorVerifier(connectors, cfg.SampleLimit, cfg.SampleTimeout, logger)
	enforcer := policy.NewEnforcer(verifier, logger)

	orchestrator := scan.NewOrchestrator(scan.Config{
		Catalog:  cat,
		Registry: registry,
		Store:    store,
		Collectors: []detect.Collector{
			detect.NewMetadataCollector(),
			detect.NewPatternCollector(),
			content,
		},
		Content:   content,
		Fuser:     detect.NewFuser(),
		Enforcer:  enforcer,
		Recorder:  recorder,
		Publisher: publisher,
		Metrics:   m,
		Logger:    logger,
		Workers:   cfg.ScanWorkers,
	})

	sync := lifecycle.NewSynchronizer(registry, store, cat,
		lifecycle.RescanFunc(func(ctx context.Context, ruleID string) error {
			_, err := orchestrator.ScanRule(ctx, ruleID)
			return err
		}),
		recorder, publisher, logger)

	return &Engine{
		Registry:     registry,
		Store:        store,
		Catalog:      cat,
		Connectors:   connectors,
		Orchestrator: orchestrator,
		Lifecycle:    sync,
		Metrics:      m,
		Publisher:    publisher,
		db:           db,
		logger:       logger,
	}, nil
}

func seedRules(registry *rules.Registry, rulesFile string, logger *slog.Logger) error {
	seed := rules.DefaultSeed()
	if rulesFile != "" {
		loaded, err := rules.LoadSeedFile(rulesFile)
		if err != nil {
			return fmt.Errorf("load rules file: %w", err)
		}
		seed = loaded
	}
	created, err := registry.Seed(seed)
	if err != nil {
		return fmt.Errorf("seed rules: %w", err)
	}
	if created > 0 {
		logger.Info("seeded rules", "created", created)
	}
	return nil
}

// HTTPHandler returns the engine's HTTP API.
func (e *Engine) HTTPHandler() http.Handler {
	return api.NewServer(e.Registry, e.Lifecycle, e.Orchestrator, e.Store, e.Metrics, e.logger).Handler()
}

// MCPServer returns the engine's MCP stdio server.
func (e *Engine) MCPServer() *mcptools.Server {
	return mcptools.NewServer(e.Registry, e.Lifecycle, e.Orchestrator, e.Store, e.logger)
}

// Close releases the publisher and database.
func (e *Engine) Close() error {
	e.Publisher.Close()
	return e.db.Close()
}
