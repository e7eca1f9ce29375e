// Package queue distributes tracking jobs through Redis. Producers push
// requests onto a list; a Dispatcher pops them and hands them to a pool of
// Workers, which store each run's result under an expiring key.
package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/garyburd/redigo/redis"
	"github.com/google/uuid"

	"github.com/ayusman/egomask/internal/app"
	"github.com/ayusman/egomask/internal/presence"
)

const (
	// DefaultKey is the Redis list holding pending requests.
	DefaultKey = "egomask:jobs"

	resultPrefix = "egomask:result:"

	// ResultTTL is how long a finished result stays retrievable.
	ResultTTL = 24 * time.Hour
)

var (
	// ErrEmpty is returned by Dequeue when no request arrived in time.
	ErrEmpty = errors.New("queue is empty")

	// ErrPending is returned by Result while a request has no result yet.
	ErrPending = errors.New("result pending")
)

// Request is one queued job.
type Request struct {
	ID          string    `json:"id"`
	Job         app.Job   `json:"job"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Result is the outcome of a processed request.
type Result struct {
	ID          string               `json:"id"`
	RunID       string               `json:"run_id,omitempty"`
	Status      string               `json:"status"`
	Summary     *presence.RunSummary `json:"summary,omitempty"`
	FailedFrame *int                 `json:"failed_frame,omitempty"`
	Error       string               `json:"error,omitempty"`
	FinishedAt  time.Time            `json:"finished_at"`
}

// NewPool creates a Redis connection pool for addr.
func NewPool(addr string, maxConnections int) *redis.Pool {
	return redis.NewPool(func() (redis.Conn, error) {
		c, err := redis.Dial("tcp", addr)
		if err != nil {
			return nil, err
		}
		return c, err
	}, maxConnections)
}

// Queue is a Redis-backed job list plus result storage.
type Queue struct {
	pool *redis.Pool
	key  string
}

// New creates a Queue on the default list.
func New(pool *redis.Pool) *Queue {
	return &Queue{pool: pool, key: DefaultKey}
}

// Key returns the list name.
func (q *Queue) Key() string { return q.key }

// Ping checks the Redis connection.
func (q *Queue) Ping() error {
	conn := q.pool.Get()
	defer conn.Close()

	_, err := conn.Do("PING")
	return err
}

// Enqueue validates job and appends it to the list. It returns the request ID
// under which the result will be stored.
func (q *Queue) Enqueue(job app.Job) (string, error) {
	if err := job.Validate(); err != nil {
		return "", err
	}
	if job.Record == nil && len(job.Annotations) > 0 {
		return "", fmt.Errorf("%w: queued jobs carry annotations as a record", app.ErrInvalidJob)
	}

	req := Request{ID: uuid.New().String(), Job: job, SubmittedAt: time.Now()}
	serialized, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("encode request: %w", err)
	}

	conn := q.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("RPUSH", q.key, serialized); err != nil {
		return "", fmt.Errorf("push request: %w", err)
	}
	return req.ID, nil
}

// Requeue puts req back at the head of the list.
func (q *Queue) Requeue(req *Request) error {
	serialized, err := json.Marshal(req)
	if err != nil {
		return err
	}

	conn := q.pool.Get()
	defer conn.Close()

	_, err = conn.Do("LPUSH", q.key, serialized)
	return err
}

// Dequeue pops the oldest request, waiting up to timeout (at least one
// second) for one to arrive. It returns ErrEmpty when none did.
func (q *Queue) Dequeue(timeout time.Duration) (*Request, error) {
	conn := q.pool.Get()
	defer conn.Close()

	secs := max(int(timeout/time.Second), 1)
	reply, err := redis.ByteSlices(conn.Do("BLPOP", q.key, secs))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	if len(reply) != 2 {
		return nil, fmt.Errorf("unexpected BLPOP reply with %d elements", len(reply))
	}

	var req Request
	if err := json.Unmarshal(reply[1], &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	return &req, nil
}

// Len returns the number of pending requests.
func (q *Queue) Len() (int, error) {
	conn := q.pool.Get()
	defer conn.Close()

	return redis.Int(conn.Do("LLEN", q.key))
}

// StoreResult saves res for ResultTTL.
func (q *Queue) StoreResult(res *Result) error {
	serialized, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}

	conn := q.pool.Get()
	defer conn.Close()

	_, err = conn.Do("SETEX", resultPrefix+res.ID, int(ResultTTL/time.Second), serialized)
	return err
}

// Result returns the stored result of request id, or ErrPending.
func (q *Queue) Result(id string) (*Result, error) {
	conn := q.pool.Get()
	defer conn.Close()

	key := resultPrefix + id
	ok, err := redis.Bool(conn.Do("EXISTS", key))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrPending
	}

	data, err := redis.Bytes(conn.Do("GET", key))
	if errors.Is(err, redis.ErrNil) {
		return nil, ErrPending
	}
	if err != nil {
		return nil, err
	}

	var res Result
	if err := json.Unmarshal(data, &res); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	return &res, nil
}
