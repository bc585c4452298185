package datasource

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"

	"github.com/flagkit/evalsdk/pkg/logger"
	"github.com/flagkit/evalsdk/pkg/store"
)

// errUnrecoverable marks a stream failure the caller must not retry,
// per spec §4.4's failure taxonomy (401/403).
var errUnrecoverable = errors.New("datasource: unrecoverable stream error")

// errStreamClosed means the connection ended without an error and
// without the caller's context being canceled — still recoverable.
var errStreamClosed = errors.New("datasource: stream closed")

func classifyStatus(code int) error {
	switch {
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", errUnrecoverable, code)
	case code >= 400:
		return fmt.Errorf("datasource: recoverable stream status %d", code)
	default:
		return nil
	}
}

// sseEventStream adapts a real r3labs/sse subscription to EventStream.
// The subscribe callback runs on the sse client's own goroutine and
// forwards into these channels; Close cancels that subscription.
type sseEventStream struct {
	events chan Event
	errs   chan error
	cancel context.CancelFunc
}

func (s *sseEventStream) Events() <-chan Event { return s.events }
func (s *sseEventStream) Errors() <-chan error { return s.errs }
func (s *sseEventStream) Close() error {
	s.cancel()
	return nil
}

// SSESource drives the Consumer from a real server-sent-events
// connection. It owns the single consumer loop required by spec §5:
// all store mutations from this source originate from Run's goroutine.
type SSESource struct {
	url      string
	headers  map[string]string
	consumer *Consumer
	log      *logger.Logger
}

var _ DataSource = (*SSESource)(nil)

// NewSSESource builds a source that streams from baseURL+"/all" and
// applies events to s.
func NewSSESource(baseURL string, headers map[string]string, s store.Store, log *logger.Logger) *SSESource {
	return &SSESource{
		url:      baseURL + "/all",
		headers:  headers,
		consumer: NewConsumer(s, log),
		log:      log,
	}
}

func (s *SSESource) Initialized() bool { return s.consumer.Initialized() }

// Run connects and consumes events until ctx is canceled or an
// unrecoverable stream error occurs. Transient failures reconnect with
// capped exponential backoff and jitter.
func (s *SSESource) Run(ctx context.Context) error {
	bo := newBackoff()
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		err := s.connectOnce(ctx)
		if err == nil || errors.Is(err, context.Canceled) {
			return ctx.Err()
		}
		if errors.Is(err, errUnrecoverable) {
			s.log.Errorf("datasource: sse stream stopped permanently: %v", err)
			return err
		}

		delay := bo.next()
		s.log.Warnf("datasource: sse stream disconnected: %v, reconnecting in %s", err, delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// noRetry is an sse reconnect strategy that gives up after the first
// failure, so every connection error reaches Run's own classification
// and backoff loop instead of being retried inside the sse client.
type noRetry struct{}

func (noRetry) NextBackOff() time.Duration { return -1 }
func (noRetry) Reset()                     {}

func (s *SSESource) connectOnce(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)

	connID := uuid.NewString()
	log := s.log.With(map[string]interface{}{"conn_id": connID})
	log.Debugf("datasource: opening sse connection to %s", s.url)

	client := sse.NewClient(s.url)
	for k, v := range s.headers {
		client.Headers[k] = v
	}
	client.ReconnectStrategy = noRetry{}

	var statusErr error
	client.ResponseValidator = func(c *sse.Client, resp *http.Response) error {
		if resp.StatusCode >= 300 {
			statusErr = classifyStatus(resp.StatusCode)
			return statusErr
		}
		return nil
	}

	stream := &sseEventStream{
		events: make(chan Event),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	defer stream.Close()

	subDone := make(chan struct{})
	go func() {
		defer close(subDone)
		subErr := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			if len(msg.Event) == 0 {
				return
			}
			select {
			case stream.events <- Event{Name: string(msg.Event), Data: msg.Data}:
			case <-ctx.Done():
			}
		})
		if subErr != nil && !errors.Is(subErr, context.Canceled) {
			select {
			case stream.errs <- subErr:
			default:
			}
		}
		close(stream.events)
	}()

	runErr := s.consumer.Run(ctx, stream)
	cancel()
	<-subDone

	switch {
	case statusErr != nil:
		return statusErr
	case runErr != nil && !errors.Is(runErr, context.Canceled) && !errors.Is(runErr, errStreamClosed) && parent.Err() == nil:
		return runErr
	case parent.Err() != nil:
		return parent.Err()
	default:
		return errStreamClosed
	}
}
