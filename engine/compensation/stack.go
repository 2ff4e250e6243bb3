package compensation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/idc-core/idc/engine/core"
	"github.com/idc-core/idc/pkg/logger"
)

// Target executes rollback commands against the tenant store and the action state.
type Target interface {
	DeleteDocument(ctx context.Context, collection, documentID string) error
	RestoreDocument(ctx context.Context, collection string, snapshot core.Document) error
	DeleteVersion(ctx context.Context, versionID string) error
	ResetVersionFields(ctx context.Context, collection, documentID string, version, fromVersion int64) error
	MarkTaskReverted(taskName string)
	UnsetTaskResult(taskName string, fields []string)
}

// Stack holds the rollback commands of one action invocation.
type Stack struct {
	mu       sync.Mutex
	commands []Command
}

func NewStack() *Stack {
	return &Stack{}
}

func (s *Stack) Push(cmd Command) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commands = append(s.commands, cmd)
}

func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.commands)
}

// Commands returns a copy of the registered commands in registration order.
func (s *Stack) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Command, len(s.commands))
	copy(out, s.commands)
	return out
}

// Unwind runs every command in reverse registration order and empties the
// stack. A failing command is logged and does not stop the unwind; the
// returned error joins all failures.
func (s *Stack) Unwind(ctx context.Context, target Target) error {
	s.mu.Lock()
	commands := s.commands
	s.commands = nil
	s.mu.Unlock()

	log := logger.FromContext(ctx).With("component", "compensation")
	var errs []error
	for i := len(commands) - 1; i >= 0; i-- {
		cmd := commands[i]
		if err := run(ctx, target, cmd); err != nil {
			log.Error("Compensation failed", "command", cmd.String(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", cmd, err))
			continue
		}
		log.Debug("Compensation applied", "command", cmd.String())
	}
	return errors.Join(errs...)
}

func run(ctx context.Context, target Target, cmd Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("compensation panic: %v", r)
		}
	}()
	switch cmd.Kind {
	case KindDeleteDocument:
		return target.DeleteDocument(ctx, cmd.Collection, cmd.DocumentID)
	case KindRestoreDocument:
		return target.RestoreDocument(ctx, cmd.Collection, cmd.Snapshot.Clone())
	case KindDeleteVersion:
		return target.DeleteVersion(ctx, cmd.VersionID)
	case KindResetVersionFields:
		return target.ResetVersionFields(ctx, cmd.Collection, cmd.DocumentID, cmd.Version, cmd.FromVersion)
	case KindMarkTaskReverted:
		target.MarkTaskReverted(cmd.TaskName)
		return nil
	case KindUnsetTaskResult:
		target.UnsetTaskResult(cmd.TaskName, cmd.Fields)
		return nil
	default:
		return fmt.Errorf("unknown compensation kind %q", cmd.Kind)
	}
}
