package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/ternarybob/arbor"

	"github.com/tenwire/imscrawl/internal/interfaces"
)

// terminalEvents are the event types that close a job's Stream channel.
var terminalEvents = map[interfaces.EventType]bool{
	interfaces.EventJobCompleted: true,
	interfaces.EventJobFailed:    true,
}

// Service implements interfaces.EventService with an in-process pub/sub bus
// plus per-job streaming channels.
type Service struct {
	subscribers map[interfaces.EventType][]interfaces.EventHandler
	mu          sync.RWMutex

	streams   map[string]chan interfaces.ProgressEvent
	streamsMu sync.Mutex

	logger arbor.ILogger
}

// NewService creates a new event service.
func NewService(logger arbor.ILogger) interfaces.EventService {
	return &Service{
		subscribers: make(map[interfaces.EventType][]interfaces.EventHandler),
		streams:     make(map[string]chan interfaces.ProgressEvent),
		logger:      logger,
	}
}

func (s *Service) Subscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers[eventType] = append(s.subscribers[eventType], handler)
	return nil
}

func (s *Service) Unsubscribe(eventType interfaces.EventType, handler interfaces.EventHandler) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	handlers := s.subscribers[eventType]
	for i := range handlers {
		if fmt.Sprintf("%p", handlers[i]) == fmt.Sprintf("%p", handler) {
			s.subscribers[eventType] = append(handlers[:i], handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("handler not found for event type: %s", eventType)
}

// Publish sends an event to all subscribers asynchronously and forwards it
// onto the job's stream channel, if one is open.
func (s *Service) Publish(ctx context.Context, event interfaces.ProgressEvent) error {
	s.dispatchAsync(ctx, event)
	s.forward(event)
	return nil
}

// PublishSync sends an event to all subscribers synchronously, then
// forwards it onto the job's stream channel.
func (s *Service) PublishSync(ctx context.Context, event interfaces.ProgressEvent) error {
	s.mu.RLock()
	handlers := append([]interfaces.EventHandler(nil), s.subscribers[event.Type]...)
	s.mu.RUnlock()

	var wg sync.WaitGroup
	errCh := make(chan error, len(handlers))
	for _, h := range handlers {
		wg.Add(1)
		go func(handler interfaces.EventHandler) {
			defer wg.Done()
			if err := handler(ctx, event); err != nil {
				s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("event handler failed")
				errCh <- err
			}
		}(h)
	}
	wg.Wait()
	close(errCh)

	s.forward(event)

	var n int
	for range errCh {
		n++
	}
	if n > 0 {
		return fmt.Errorf("event handlers failed: %d errors", n)
	}
	return nil
}

func (s *Service) dispatchAsync(ctx context.Context, event interfaces.ProgressEvent) {
	s.mu.RLock()
	handlers := s.subscribers[event.Type]
	s.mu.RUnlock()
	for _, h := range handlers {
		go func(handler interfaces.EventHandler) {
			if err := handler(ctx, event); err != nil {
				s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("event handler failed")
			}
		}(h)
	}
}

// forward pushes the event onto the per-job stream channel if the job has
// an active subscriber, closing the channel on a terminal event. The send
// stays under streamsMu so Stream's context-cancel goroutine can never
// close the channel mid-send; the send is non-blocking so holding the lock
// is cheap.
func (s *Service) forward(event interfaces.ProgressEvent) {
	if event.JobID == "" {
		return
	}
	s.streamsMu.Lock()
	defer s.streamsMu.Unlock()

	ch, ok := s.streams[event.JobID]
	if !ok {
		return
	}

	select {
	case ch <- event:
	default:
		// slow consumer: drop rather than block publishing goroutines.
	}

	if terminalEvents[event.Type] {
		delete(s.streams, event.JobID)
		close(ch)
	}
}

// Stream opens a buffered channel of ProgressEvents for one job id.
func (s *Service) Stream(ctx context.Context, jobID string) <-chan interfaces.ProgressEvent {
	ch := make(chan interfaces.ProgressEvent, 64)
	s.streamsMu.Lock()
	s.streams[jobID] = ch
	s.streamsMu.Unlock()

	go func() {
		<-ctx.Done()
		s.streamsMu.Lock()
		if existing, ok := s.streams[jobID]; ok && existing == ch {
			delete(s.streams, jobID)
			close(ch)
		}
		s.streamsMu.Unlock()
	}()

	return ch
}

func (s *Service) Close() error {
	s.mu.Lock()
	s.subscribers = make(map[interfaces.EventType][]interfaces.EventHandler)
	s.mu.Unlock()

	s.streamsMu.Lock()
	for id, ch := range s.streams {
		close(ch)
		delete(s.streams, id)
	}
	s.streamsMu.Unlock()

	s.logger.Info().Msg("event service closed")
	return nil
}
