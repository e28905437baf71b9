package activity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/toolhub/hubauth/internal/config"
	"github.com/toolhub/hubauth/internal/model"
)

// Sink persists or forwards one activity entry.
type Sink interface {
	Write(ctx context.Context, entry *model.ActivityLog) error
}

// Inserter is the slice of the activity repository the db sink needs.
type Inserter interface {
	Insert(ctx context.Context, entry *model.ActivityLog) error
}

// SinkDeps is what a factory may build from.
type SinkDeps struct {
	Config config.ActivityConfig
	Repo   Inserter
}

type Factory func(deps SinkDeps) (Sink, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func NewSink(deps SinkDeps) (Sink, error) {
	key := strings.ToLower(strings.TrimSpace(deps.Config.Sink))
	if key == "" {
		return nil, fmt.Errorf("activity.sink is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported activity sink: %s", deps.Config.Sink)
	}
	return factory(deps)
}

type dbSink struct {
	repo Inserter
}

func init() {
	Register("db", createDBSink)
	Register("log", createLogSink)
	Register("kafka", createKafkaSink)
}

func createDBSink(deps SinkDeps) (Sink, error) {
	if deps.Repo == nil {
		return nil, fmt.Errorf("db activity sink needs a repository")
	}
	return &dbSink{repo: deps.Repo}, nil
}

func (s *dbSink) Write(ctx context.Context, entry *model.ActivityLog) error {
	return s.repo.Insert(ctx, entry)
}
