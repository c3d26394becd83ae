// Package notify fans a message out to the devices registered for a store.
//
// The Service looks up registration tokens, splits them into batches and
// hands each batch to a Dispatcher. Tokens the dispatcher reports as invalid
// are removed from the store. Delivery itself is the Dispatcher's concern.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/zoobzio/capitan"
)

// DefaultBatchSize is the number of tokens per dispatch.
const DefaultBatchSize = 500

// ErrNoTokens is returned when a store has no registered devices.
var ErrNoTokens = errors.New("no registered tokens")

var validate = validator.New()

// Message is a notification addressed to every device of a store.
type Message struct {
	StoreID string            `json:"storeId" validate:"required,max=128"`
	Title   string            `json:"title" validate:"required,max=256"`
	Body    string            `json:"body" validate:"max=4096"`
	Data    map[string]string `json:"data,omitempty"`
}

// Validate checks the message's struct tags.
func (m Message) Validate() error {
	if err := validate.Struct(m); err != nil {
		return fmt.Errorf("invalid message: %w", err)
	}
	return nil
}

// Batch is one dispatch unit.
type Batch struct {
	Message Message
	Tokens  []string
}

// Result is a dispatcher's outcome for one batch.
type Result struct {
	Sent    int
	Invalid []string
}

// Dispatcher delivers a batch.
type Dispatcher interface {
	Dispatch(ctx context.Context, b Batch) (Result, error)
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, b Batch) (Result, error)

// Dispatch calls f.
func (f DispatcherFunc) Dispatch(ctx context.Context, b Batch) (Result, error) {
	return f(ctx, b)
}

// Report summarizes a Notify call.
type Report struct {
	Batches int `json:"batches"`
	Sent    int `json:"sent"`
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

var (
	// NotifyDispatched is emitted after every successful batch.
	NotifyDispatched = capitan.NewSignal("beacon.notify.dispatched", "Notification batch dispatched")

	// NotifyFailed is emitted when a batch fails.
	NotifyFailed = capitan.NewSignal("beacon.notify.failed", "Notification batch failed")

	// KeyStore is the target store.
	KeyStore = capitan.NewStringKey("store")

	// KeySent is the number of devices a batch reached.
	KeySent = capitan.NewIntKey("sent")

	// KeyError is the failure message.
	KeyError = capitan.NewStringKey("error")
)

// Service sends messages through a Dispatcher.
type Service struct {
	tokens     TokenStore
	dispatcher Dispatcher
	batchSize  int
}

// Option configures a Service.
type Option func(*Service)

// WithBatchSize sets the number of tokens per batch.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// NewService creates a Service.
func NewService(tokens TokenStore, dispatcher Dispatcher, opts ...Option) *Service {
	s := &Service{
		tokens:     tokens,
		dispatcher: dispatcher,
		batchSize:  DefaultBatchSize,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the service's token store.
func (s *Service) Tokens() TokenStore {
	return s.tokens
}

// Notify sends msg to every device registered for msg.StoreID. Batches are
// independent: a failed batch is counted and reported, and the rest still
// go out. The returned error joins every batch failure.
func (s *Service) Notify(ctx context.Context, msg Message) (Report, error) {
	if err := msg.Validate(); err != nil {
		return Report{}, err
	}

	tokens, err := s.tokens.Tokens(ctx, msg.StoreID)
	if err != nil {
		return Report{}, fmt.Errorf("failed to load tokens: %w", err)
	}
	if len(tokens) == 0 {
		return Report{}, ErrNoTokens
	}

	var (
		report  Report
		errs    []error
		invalid []string
	)
	for start := 0; start < len(tokens); start += s.batchSize {
		end := min(start+s.batchSize, len(tokens))
		batch := Batch{Message: msg, Tokens: tokens[start:end]}
		report.Batches++

		res, err := s.dispatcher.Dispatch(ctx, batch)
		if err != nil {
			report.Failed += len(batch.Tokens)
			errs = append(errs, fmt.Errorf("batch %d: %w", report.Batches, err))
			capitan.Emit(ctx, NotifyFailed,
				KeyStore.Field(msg.StoreID),
				KeyError.Field(err.Error()),
			)
			continue
		}
		report.Sent += res.Sent
		invalid = append(invalid, res.Invalid...)
		capitan.Emit(ctx, NotifyDispatched,
			KeyStore.Field(msg.StoreID),
			KeySent.Field(res.Sent),
		)
	}

	if len(invalid) > 0 {
		if err := s.tokens.Remove(ctx, invalid...); err != nil {
			errs = append(errs, fmt.Errorf("failed to prune tokens: %w", err))
		} else {
			report.Removed = len(invalid)
		}
	}

	return report, errors.Join(errs...)
}
