package softdelete

import (
	"context"
	"errors"
)

// Event names a transition hooks can be attached to.
type Event string

const (
	EventSoftDelete   Event = "soft_delete"
	EventSoftUndelete Event = "soft_undelete"
)

func (e Event) before() string { return "before_" + string(e) }

func (e Event) after() string { return "after_" + string(e) }

// Hook runs around a transition. A before hook stops the transition by
// returning Abort; any other error also stops it and is propagated.
// Errors returned by after hooks are logged and otherwise ignored.
type Hook func(ctx context.Context, rec Record) error

// BoolHook adapts a hook that signals abort by returning false.
func BoolHook(fn func(ctx context.Context, rec Record) bool) Hook {
	return func(ctx context.Context, rec Record) error {
		if !fn(ctx, rec) {
			return Abort("")
		}
		return nil
	}
}

// Record level hooks, checked before the registry chain.
type (
	BeforeSoftDeleter interface {
		BeforeSoftDelete(ctx context.Context) error
	}
	AfterSoftDeleter interface {
		AfterSoftDelete(ctx context.Context) error
	}
	BeforeSoftUndeleter interface {
		BeforeSoftUndelete(ctx context.Context) error
	}
	AfterSoftUndeleter interface {
		AfterSoftUndelete(ctx context.Context) error
	}
)

func recordHook(rec Record, event Event, before bool) Hook {
	var fn func(context.Context) error
	switch event {
	case EventSoftDelete:
		if before {
			if h, ok := rec.(BeforeSoftDeleter); ok {
				fn = h.BeforeSoftDelete
			}
		} else if h, ok := rec.(AfterSoftDeleter); ok {
			fn = h.AfterSoftDelete
		}
	case EventSoftUndelete:
		if before {
			if h, ok := rec.(BeforeSoftUndeleter); ok {
				fn = h.BeforeSoftUndelete
			}
		} else if h, ok := rec.(AfterSoftUndeleter); ok {
			fn = h.AfterSoftUndelete
		}
	}
	if fn == nil {
		return nil
	}
	return func(ctx context.Context, _ Record) error { return fn(ctx) }
}

// hookChain returns the hooks to run for rec, record level first.
func (r *Registry) hookChain(rec Record, event Event, before bool) []Hook {
	chain := make([]Hook, 0, 4)
	if h := recordHook(rec, event, before); h != nil {
		chain = append(chain, h)
	}
	return append(chain, r.hooks(rec.TableName(), event, before)...)
}

// runBefore runs the before chain and stops at the first error.
// It returns the abort, if any, separately from hard failures.
func runBefore(ctx context.Context, chain []Hook, rec Record) (*AbortError, error) {
	for _, hook := range chain {
		err := hook(ctx, rec)
		if err == nil {
			continue
		}
		var abort *AbortError
		if errors.As(err, &abort) {
			return abort, nil
		}
		return nil, err
	}
	return nil, nil
}

func hookFailed(event Event, rec Record, abort *AbortError) *HookFailedError {
	var messages []string
	if m, ok := rec.(Messenger); ok {
		messages = append(messages, m.ErrorMessages()...)
	}
	if len(messages) == 0 && abort.Reason != "" {
		messages = []string{abort.Reason}
	}
	return &HookFailedError{Hook: event.before(), Messages: messages, Err: abort}
}
