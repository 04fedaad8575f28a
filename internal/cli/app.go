package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tolkaudit/tolkaudit/internal/audit"
	"github.com/tolkaudit/tolkaudit/internal/config"
	"github.com/tolkaudit/tolkaudit/internal/db"
	"github.com/tolkaudit/tolkaudit/internal/events"
	"github.com/tolkaudit/tolkaudit/internal/lifecycle"
	"github.com/tolkaudit/tolkaudit/internal/orchestrator"
	"github.com/tolkaudit/tolkaudit/internal/revision"
	"github.com/tolkaudit/tolkaudit/internal/verify"
)

// app wires the full pipeline stack for one CLI invocation.
type app struct {
	cfg       *config.Config
	db        *db.DB
	store     events.Store
	bus       *events.Bus
	revisions *revision.Store
	runs      orchestrator.RunStore
	orch      *orchestrator.Orchestrator
}

// newApp loads config and composes the stack. Without a database URL the
// in-memory stores are used, which is enough for one-shot local runs.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.LoadDefault()
	if err != nil {
		return nil, err
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, fmt.Errorf("invalid config: %s", errs[0].Error())
	}

	a := &app{cfg: cfg}

	if cfg.Audit.DatabaseURL != "" {
		database, err := db.Open(ctx, cfg.Audit.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx); err != nil {
			database.Close()
			return nil, err
		}
		a.db = database
		a.store = db.NewEventStore(database)
		a.runs = db.NewRunStore(database)
	} else {
		a.store = events.NewMemoryStore()
		a.runs = orchestrator.NewMemoryRunStore()
	}

	a.bus = events.NewBus(a.store)
	a.revisions = revision.NewStore(filepath.Join(cfg.Audit.DataDir, "store"))
	if err := a.revisions.Load(); err != nil {
		a.close()
		return nil, err
	}

	verifier := verify.NewRunner(&verify.ExecRunner{}, a.bus)
	verifier.SetProgress(os.Stderr)
	agent := &audit.CommandAgent{
		Command:     cfg.Audit.AgentCommand,
		TemplateDir: filepath.Join(cfg.Audit.DataDir, "templates"),
	}
	auditor := audit.NewEngine(agent, a.bus)
	auditor.SetProgress(os.Stderr)

	a.orch = orchestrator.New(a.revisions, a.runs, verifier, auditor, a.bus, cfg.Audit.Plan())
	a.orch.SetProgress(os.Stderr)

	mapper := lifecycle.NewMapper(a.bus)
	a.orch.SetLifecycleHook(func(ctx context.Context, completed, previous *orchestrator.Run) {
		var prevID string
		var prevFindings []audit.Finding
		if previous != nil {
			prevID = previous.ID
			prevFindings = previous.Findings
		}
		mapper.Publish(ctx, completed.ProjectID, completed.ID, completed.Findings, prevID, prevFindings)
	})

	return a, nil
}

func (a *app) close() {
	if a.db != nil {
		a.db.Close()
	}
}
