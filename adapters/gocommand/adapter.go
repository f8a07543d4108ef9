// Package gocommand binds reconciler commands and queries to the go-command
// dispatcher and registry.
package gocommand

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

// ValidateMessageContract checks that msg has a non-empty Type() and passes
// its own Validate() when it has one.
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	typed, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	if strings.TrimSpace(typed.Type()) == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	return nil
}

func Dispatch[T any](ctx context.Context, msg T) error {
	return commanddispatcher.Dispatch(ctx, msg)
}

func Query[T any, R any](ctx context.Context, msg T) (R, error) {
	return commanddispatcher.Query[T, R](ctx, msg)
}

// Bus owns the dispatcher subscriptions of one App so they can be released
// together on Close. Handlers are also recorded in a go-command registry.
type Bus struct {
	registry      *command.Registry
	mu            sync.Mutex
	subscriptions []commanddispatcher.Subscription
	closed        bool
}

func NewBus(registry *command.Registry) *Bus {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &Bus{registry: registry}
}

func (b *Bus) Registry() *command.Registry {
	if b == nil {
		return nil
	}
	return b.registry
}

// AddCommand subscribes cmd on the dispatcher and registers it.
func AddCommand[T any](b *Bus, cmd command.Commander[T], runnerOpts ...runner.Option) error {
	if b == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	if cmd == nil {
		return fmt.Errorf("gocommand: command is required")
	}
	return b.add(cmd, commanddispatcher.SubscribeCommand(cmd, runnerOpts...))
}

// AddQuery subscribes qry on the dispatcher and registers it.
func AddQuery[T any, R any](b *Bus, qry command.Querier[T, R], runnerOpts ...runner.Option) error {
	if b == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	if qry == nil {
		return fmt.Errorf("gocommand: query is required")
	}
	return b.add(qry, commanddispatcher.SubscribeQuery(qry, runnerOpts...))
}

// Initialize runs the registry resolvers over every registered handler.
func (b *Bus) Initialize() error {
	if b == nil {
		return fmt.Errorf("gocommand: bus is not configured")
	}
	return b.registry.Initialize()
}

func (b *Bus) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscriptions)
}

// Close unsubscribes in reverse order. Calling it twice is a no-op.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	subscriptions := b.subscriptions
	b.subscriptions = nil
	b.closed = true
	b.mu.Unlock()
	for i := len(subscriptions) - 1; i >= 0; i-- {
		if subscriptions[i] != nil {
			subscriptions[i].Unsubscribe()
		}
	}
}

func (b *Bus) add(handler any, subscription commanddispatcher.Subscription) error {
	release := func() {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		release()
		return fmt.Errorf("gocommand: bus is closed")
	}
	if err := b.registry.RegisterCommand(handler); err != nil {
		release()
		return err
	}
	b.subscriptions = append(b.subscriptions, subscription)
	return nil
}
