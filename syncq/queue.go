// Package syncq provides the deferred-action sync queue: a persistent
// FIFO of writes that could not reach the server while offline.
//
// The application layer enqueues an action when a write fails for lack of
// connectivity; the platform's reconnect signal triggers Drain, which
// redelivers actions strictly in enqueue order. Actions are removed on
// successful delivery and retried across drains up to a bounded attempt
// ceiling, after which they are removed and surfaced as permanently
// failed.
package syncq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
)

// SyncTag is the background-sync tag the application registers with the
// platform; the platform fires the reconnect signal under this tag and
// the handler calls Drain.
const SyncTag = "deferred-actions"

// ErrStopWalk stops a storage walk early.
var ErrStopWalk = errors.New("syncq: stop walk")

// Action is one queued unit of deferred work.
type Action struct {
	// ID uniquely identifies the action across restarts.
	ID string `json:"id"`

	// Op names the operation the application will redeliver
	// (e.g. "message.send").
	Op string `json:"op"`

	// Payload is the opaque application payload.
	Payload json.RawMessage `json:"payload,omitempty"`

	// EnqueuedAt is when the action entered the queue.
	EnqueuedAt time.Time `json:"enqueued_at"`

	// Attempts counts fully failed drain deliveries.
	Attempts int `json:"attempts"`
}

// DeliverFunc redelivers one action to the server.
type DeliverFunc func(ctx context.Context, action Action) error

// Storage is the persistent FIFO the queue runs on. Appends and removals
// must be atomic; keys assigned by Append must sort in enqueue order.
type Storage interface {
	// Append adds a record at the queue tail.
	Append(ctx context.Context, data []byte) error

	// Walk visits records in enqueue order until fn returns an error.
	// ErrStopWalk stops the walk without failing it.
	Walk(ctx context.Context, fn func(seq uint64, data []byte) error) error

	// Update replaces the record at seq.
	Update(ctx context.Context, seq uint64, data []byte) error

	// Remove deletes the record at seq.
	Remove(ctx context.Context, seq uint64) error
}

// Queue drains deferred actions FIFO with bounded retries.
type Queue struct {
	storage Storage
	logger  *slog.Logger

	maxAttempts     int
	deliveryTries   uint
	initialInterval time.Duration

	onPermanentFailure func(Action, error)
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger for delivery failures and dead-letters.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		if logger != nil {
			q.logger = logger
		}
	}
}

// WithMaxAttempts sets the attempt ceiling after which an action is
// removed and reported as permanently failed. Defaults to 5.
func WithMaxAttempts(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.maxAttempts = n
		}
	}
}

// WithDeliveryRetries sets the number of immediate backoff-spaced tries a
// single drain makes per action before counting one failed attempt.
// Defaults to 3.
func WithDeliveryRetries(n uint) Option {
	return func(q *Queue) {
		if n > 0 {
			q.deliveryTries = n
		}
	}
}

// WithInitialInterval sets the initial backoff interval between delivery
// tries. Defaults to 500ms.
func WithInitialInterval(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.initialInterval = d
		}
	}
}

// WithPermanentFailureHandler registers a callback invoked when an action
// exhausts its attempt ceiling and is dropped from the queue. How the
// failure is surfaced to the user is the application's concern.
func WithPermanentFailureHandler(fn func(Action, error)) Option {
	return func(q *Queue) {
		q.onPermanentFailure = fn
	}
}

// New creates a queue over the given storage.
func New(storage Storage, opts ...Option) (*Queue, error) {
	if storage == nil {
		return nil, errors.New("syncq: storage is required")
	}
	q := &Queue{
		storage:         storage,
		logger:          slog.New(slog.DiscardHandler),
		maxAttempts:     5,
		deliveryTries:   3,
		initialInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(q)
	}
	return q, nil
}

// Enqueue appends a new action to the queue tail and returns it.
func (q *Queue) Enqueue(ctx context.Context, op string, payload json.RawMessage) (Action, error) {
	action := Action{
		ID:         uuid.NewString(),
		Op:         op,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(action)
	if err != nil {
		return Action{}, fmt.Errorf("encode action: %w", err)
	}
	if err := q.storage.Append(ctx, data); err != nil {
		return Action{}, fmt.Errorf("enqueue action: %w", err)
	}
	return action, nil
}

// Len reports the number of queued actions.
func (q *Queue) Len(ctx context.Context) (int, error) {
	n := 0
	err := q.storage.Walk(ctx, func(uint64, []byte) error {
		n++
		return nil
	})
	return n, err
}

// Actions returns the queued actions in enqueue order.
func (q *Queue) Actions(ctx context.Context) ([]Action, error) {
	var actions []Action
	err := q.storage.Walk(ctx, func(_ uint64, data []byte) error {
		var a Action
		if err := json.Unmarshal(data, &a); err != nil {
			return fmt.Errorf("decode action: %w", err)
		}
		actions = append(actions, a)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return actions, nil
}

// Drain redelivers queued actions in enqueue order. Each delivery gets a
// short exponential-backoff retry window for transient flaps; a delivery
// that still fails increments the action's persistent attempt count and
// stops the drain, so a later action is never delivered before an earlier
// one. Actions at the attempt ceiling are removed and reported through
// the permanent-failure handler.
//
// Drain returns nil when the queue empties and the first delivery error
// when it stops early; either way the queue is left consistent and a
// later reconnect signal resumes where this drain stopped.
func (q *Queue) Drain(ctx context.Context, deliver DeliverFunc) error {
	if deliver == nil {
		return errors.New("syncq: deliver func is required")
	}

	for {
		seq, action, ok, err := q.head(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}

		derr := q.deliverOnce(ctx, deliver, action)
		if derr == nil {
			if err := q.storage.Remove(ctx, seq); err != nil {
				return fmt.Errorf("remove delivered action %s: %w", action.ID, err)
			}
			continue
		}

		action.Attempts++
		if action.Attempts >= q.maxAttempts {
			if err := q.storage.Remove(ctx, seq); err != nil {
				return fmt.Errorf("remove failed action %s: %w", action.ID, err)
			}
			q.logger.Warn("action permanently failed",
				"id", action.ID, "op", action.Op, "attempts", action.Attempts, "error", derr)
			if q.onPermanentFailure != nil {
				q.onPermanentFailure(action, derr)
			}
			continue
		}

		data, err := json.Marshal(action)
		if err != nil {
			return fmt.Errorf("encode action %s: %w", action.ID, err)
		}
		if err := q.storage.Update(ctx, seq, data); err != nil {
			return fmt.Errorf("update action %s: %w", action.ID, err)
		}
		q.logger.Debug("drain stopped on failed delivery",
			"id", action.ID, "op", action.Op, "attempts", action.Attempts, "error", derr)
		return derr
	}
}

// head returns the oldest queued action, if any.
func (q *Queue) head(ctx context.Context) (uint64, Action, bool, error) {
	var (
		seq    uint64
		action Action
		found  bool
	)
	err := q.storage.Walk(ctx, func(s uint64, data []byte) error {
		if err := json.Unmarshal(data, &action); err != nil {
			return fmt.Errorf("decode action at %d: %w", s, err)
		}
		seq = s
		found = true
		return ErrStopWalk
	})
	if err != nil && !errors.Is(err, ErrStopWalk) {
		return 0, Action{}, false, err
	}
	return seq, action, found, nil
}

// deliverOnce makes one logical delivery attempt, absorbing transient
// flaps with a bounded exponential backoff.
func (q *Queue) deliverOnce(ctx context.Context, deliver DeliverFunc, action Action) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.initialInterval

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, deliver(ctx, action)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(q.deliveryTries))
	return err
}
