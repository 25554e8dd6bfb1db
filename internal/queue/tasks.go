package queue

import (
	"context"

	"github.com/google/uuid"
)

// FuncTask adapts a plain function into a Task. Most collection work is
// expressed this way: the router or scheduler captures the provider call in a
// closure and hands it off for prioritized execution.
type FuncTask struct {
	id       string
	name     string
	module   string
	priority Priority
	fn       func(ctx context.Context) error
}

// NewFuncTask creates a task with a generated identifier.
func NewFuncTask(name, module string, priority Priority, fn func(ctx context.Context) error) *FuncTask {
	return &FuncTask{
		id:       name + "_" + uuid.New().String(),
		name:     name,
		module:   module,
		priority: priority,
		fn:       fn,
	}
}

func (t *FuncTask) ID() string         { return t.id }
func (t *FuncTask) Name() string       { return t.name }
func (t *FuncTask) Module() string     { return t.module }
func (t *FuncTask) Priority() Priority { return t.priority }

func (t *FuncTask) Execute(ctx context.Context) error {
	return t.fn(ctx)
}
