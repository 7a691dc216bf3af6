package runner

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/segmentio/kafka-go"

	"speech-to-text/backend/internal/job/domain"
)

var (
	// ErrQueueFull is returned when the local queue cannot accept another ticket.
	ErrQueueFull = errors.New("runner: job queue is full")
	// ErrStopped is returned when dispatching to a pool that has been stopped.
	ErrStopped = errors.New("runner: pool stopped")
)

// Dispatcher hands a ticket to whatever will execute it. It must not block on execution.
type Dispatcher interface {
	Dispatch(ctx context.Context, t domain.Ticket) error
}

// Executor runs a single ticket. *Runner implements it.
type Executor interface {
	Execute(ctx context.Context, t domain.Ticket) error
}

// Pool is the in-process dispatcher: a bounded queue drained by a fixed set of workers.
type Pool struct {
	exec    Executor
	workers int
	queue   chan domain.Ticket

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// NewPool returns a pool; call Start before dispatching.
func NewPool(exec Executor, workers, queueSize int) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pool{exec: exec, workers: workers, queue: make(chan domain.Ticket, queueSize)}
}

// Start launches the workers. ctx bounds in-flight executions; Stop cancels it after its grace period.
func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.work(ctx)
	}
}

func (p *Pool) work(ctx context.Context) {
	defer p.wg.Done()
	for t := range p.queue {
		if err := p.exec.Execute(ctx, t); err != nil {
			log.Error("runner: execute failed", "job_id", t.JobID, "err", err)
		}
	}
}

// Dispatch enqueues without blocking.
func (p *Pool) Dispatch(ctx context.Context, t domain.Ticket) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- t:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop stops accepting tickets and waits for queued ones to drain. If ctx ends first, in-flight
// executions are cancelled (their jobs end failed) and Stop waits for the workers to return.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		<-done
		return ctx.Err()
	}
}

// ticketWriter is the subset of *kafka.Writer used by KafkaDispatcher.
type ticketWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher publishes tickets to a topic consumed by the worker binary.
type KafkaDispatcher struct {
	writer ticketWriter
	topic  string
}

// NewKafkaDispatcher returns a dispatcher writing to topic. Messages are keyed by user id.
func NewKafkaDispatcher(brokers []string, topic string) *KafkaDispatcher {
	return &KafkaDispatcher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 10 * time.Millisecond,
		},
		topic: topic,
	}
}

// Dispatch writes the ticket synchronously so a broker failure reaches the caller.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, t domain.Ticket) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return d.writer.WriteMessages(writeCtx, kafka.Message{Key: []byte(t.UserID), Value: payload})
}

// Close flushes and closes the writer.
func (d *KafkaDispatcher) Close() error {
	return d.writer.Close()
}

const readRetryDelay = time.Second

// messageReader is the subset of *kafka.Reader used by Consume.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Consume reads tickets until ctx is cancelled and executes each one in order.
// Undecodable messages are logged and skipped.
func Consume(ctx context.Context, reader messageReader, exec Executor) error {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, io.EOF) {
				return err
			}
			log.Warn("runner: kafka read error", "err", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(readRetryDelay):
			}
			continue
		}
		var t domain.Ticket
		if err := json.Unmarshal(msg.Value, &t); err != nil || t.JobID == "" {
			log.Warn("runner: dropping malformed ticket", "offset", msg.Offset, "partition", msg.Partition, "err", err)
			continue
		}
		if err := exec.Execute(ctx, t); err != nil {
			log.Error("runner: execute failed", "job_id", t.JobID, "err", err)
		}
	}
}
