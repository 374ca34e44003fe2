// Package engine wires the storage, registry, ledger and orchestrator
// together and owns the direct ("auto" channel) execution path.
package engine

import (
	"context"
	"database/sql"
	"log"
	"time"

	"khidma/internal/agent"
	"khidma/internal/config"
	"khidma/internal/domain"
	"khidma/internal/ledger"
	"khidma/internal/repo"
	"khidma/internal/tools"
)

type Engine struct {
	DB           *sql.DB
	Repo         repo.Repo
	Registry     *tools.Registry
	Ledger       ledger.Recorder
	Orchestrator *agent.Orchestrator
	Config       *config.Config
	Logger       *log.Logger
	Now          func() time.Time
}

// New assembles an Engine over an open database. cfg may be nil, in which
// case the conversational path is disabled and only direct execution works.
func New(database *sql.DB, cfg *config.Config, logger *log.Logger) *Engine {
	r := repo.Repo{DB: database}
	registry := tools.New(r)
	rec := ledger.New(r)
	rec.Logger = logger
	e := &Engine{
		DB:       database,
		Repo:     r,
		Registry: registry,
		Ledger:   rec,
		Config:   cfg,
		Logger:   logger,
		Now:      time.Now,
	}
	if cfg != nil && cfg.Model.BaseURL != "" {
		e.Orchestrator = &agent.Orchestrator{
			Client:   agent.NewHTTPClient(cfg.Model.BaseURL, cfg.Model.APIKey, cfg.Model.Name),
			Registry: registry,
			Ledger:   rec,
			Repo:     r,
			Logger:   logger,
			Now:      e.now,
		}
	}
	return e
}

func (e *Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// ExecuteService runs one direct invocation for a user and records it on the
// auto channel. The returned id is the ledger entry, usable as a correlation
// identifier when the result must be traced later.
func (e *Engine) ExecuteService(ctx context.Context, userID, tool string, args map[string]any, paymentMethod string) (domain.ToolResult, string, error) {
	result, err := e.Registry.Execute(ctx, tool, args, userID)
	if err != nil {
		return result, "", err
	}
	def, _ := e.Registry.Get(tool)
	id := e.Ledger.Record(ctx, ledger.Entry{
		UserID:          userID,
		ServiceType:     def.DisplayName,
		ServiceCategory: def.Category,
		Args:            args,
		Result:          result,
		Channel:         domain.ChannelAuto,
		PaymentMethod:   paymentMethod,
	})
	return result, id, nil
}

// Runner binds the engine to one user, matching the executor shape the
// step workflow expects.
func (e *Engine) Runner(userID string) *ServiceRunner {
	return &ServiceRunner{engine: e, userID: userID}
}

type ServiceRunner struct {
	engine *Engine
	userID string
}

func (r *ServiceRunner) ExecuteService(ctx context.Context, tool string, args map[string]any, paymentMethod string) (domain.ToolResult, string, error) {
	return r.engine.ExecuteService(ctx, r.userID, tool, args, paymentMethod)
}
