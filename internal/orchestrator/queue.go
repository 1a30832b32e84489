package orchestrator

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"maragu.dev/goqite"
)

// dispatchQueueName is the goqite queue the orchestrator enqueues job ids
// onto, sharing the schema connection.go already set up via goqite.Setup.
const dispatchQueueName = "crawl_jobs"

// dispatchExtension is how long a received-but-unfinished message is hidden
// from other receivers before it's considered abandoned and redelivered.
const dispatchExtension = 10 * time.Minute

// dispatchReceiveMaxRetries caps how many times goqite will redeliver a
// message that is received but never deleted, before giving up on it.
const dispatchReceiveMaxRetries = 3

// dispatchQueue wraps a goqite.Queue to enqueue/dequeue bare job ids.
// ExecuteJob records each job id here and then runs the job in-process, so
// a process restart before the job finishes still leaves the job
// recoverable through RecoverPendingJobs.
type dispatchQueue struct {
	q      *goqite.Queue
	logger arbor.ILogger
}

// newDispatchQueue constructs a dispatchQueue against an already-open
// *sql.DB (the same handle storage/sqlite.DB.DB() returns); goqite.Setup
// must already have been run against it, which connection.go does at
// startup.
func newDispatchQueue(db *sql.DB, logger arbor.ILogger) *dispatchQueue {
	q := goqite.New(goqite.NewOpts{
		DB:         db,
		Name:       dispatchQueueName,
		MaxReceive: dispatchReceiveMaxRetries,
	})
	return &dispatchQueue{q: q, logger: logger}
}

// enqueue sends jobID as the queue message body.
func (d *dispatchQueue) enqueue(ctx context.Context, jobID string) error {
	if err := d.q.Send(ctx, goqite.Message{Body: []byte(jobID)}); err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// receive returns the next available job id, or ok=false when the queue is
// empty.
func (d *dispatchQueue) receive(ctx context.Context) (jobID string, msgID goqite.ID, ok bool, err error) {
	msg, err := d.q.Receive(ctx)
	if err != nil {
		return "", "", false, fmt.Errorf("receive job: %w", err)
	}
	if msg == nil {
		return "", "", false, nil
	}
	return string(msg.Body), msg.ID, true, nil
}

func (d *dispatchQueue) delete(ctx context.Context, id goqite.ID) error {
	return d.q.Delete(ctx, id)
}

func (d *dispatchQueue) extend(ctx context.Context, id goqite.ID) error {
	return d.q.Extend(ctx, id, dispatchExtension)
}
