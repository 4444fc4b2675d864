package risk

import (
	"context"
	"log/slog"
)

// Engine wraps the pure Score function with best-effort async
// recording to an audit Store.
type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	if store == nil {
		store = NopStore{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, logger: logger}
}

// Assess scores signals and fires an async, best-effort Store.Record.
// The returned Assessment does not wait on the record call.
func (e *Engine) Assess(ctx context.Context, signals Signals) Assessment {
	a := Score(signals)
	go func() {
		if err := e.store.Record(context.Background(), a); err != nil {
			e.logger.Warn("risk assessment record failed", "assessment_id", a.ID, "error", err)
		}
	}()
	return a
}
