package syncer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/nark2019/careerforgeai-sub001/internal/metrics"
	"github.com/nark2019/careerforgeai-sub001/internal/outbox"
	"github.com/nark2019/careerforgeai-sub001/internal/remote"
)

// Credentials supplies the token for entries queued without one.
type Credentials interface {
	Current() string
	Expired(token string) bool
}

// Options configures a Coordinator.
type Options struct {
	// Concurrency bounds the replays in flight during one drain pass. 1
	// replays strictly in enqueue order.
	Concurrency int
	// RequestTimeout bounds every remote write.
	RequestTimeout time.Duration
	Metrics        *metrics.Metrics
}

// DrainResult summarizes one drain pass.
type DrainResult struct {
	Tag       Tag
	Attempted int
	Synced    int
	Failed    int
	FailedIDs []int64
	Pending   int
}

// SubmitResult reports where an offline-first write ended up.
type SubmitResult struct {
	Queued bool
	Entry  outbox.Entry
}

// Coordinator replays queued mutations. Drain passes for the same tag never
// overlap: a trigger that arrives while a pass runs waits for it and shares
// its result.
type Coordinator struct {
	queues      map[Tag]*outbox.Queue
	writer      remote.Writer
	creds       Credentials
	concurrency int
	timeout     time.Duration
	metrics     *metrics.Metrics

	group singleflight.Group
}

// New creates a coordinator for the chat and user-data queues.
func New(chat, userData *outbox.Queue, writer remote.Writer, creds Credentials, opts Options) (*Coordinator, error) {
	if chat == nil || userData == nil {
		return nil, errors.New("both outbox queues are required")
	}
	if writer == nil {
		return nil, errors.New("remote writer is required")
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}

	return &Coordinator{
		queues: map[Tag]*outbox.Queue{
			TagChatMessages: chat,
			TagUserData:     userData,
		},
		writer:      writer,
		creds:       creds,
		concurrency: opts.Concurrency,
		timeout:     opts.RequestTimeout,
		metrics:     opts.Metrics,
	}, nil
}

// Queue returns the queue drained for tag.
func (c *Coordinator) Queue(tag Tag) (*outbox.Queue, error) {
	q, ok := c.queues[tag]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, string(tag))
	}
	return q, nil
}

// Validate rejects entries the remote endpoint for tag could never accept.
func (c *Coordinator) Validate(tag Tag, e outbox.Entry) error {
	if _, err := c.Queue(tag); err != nil {
		return err
	}
	if tag == TagUserData && e.ComponentType == "" {
		return fmt.Errorf("%w: user-data entries need a component type", ErrInvalidEntry)
	}
	return nil
}

// Enqueue validates e and appends it to the queue for tag.
func (c *Coordinator) Enqueue(ctx context.Context, tag Tag, e outbox.Entry) (outbox.Entry, error) {
	if err := c.Validate(tag, e); err != nil {
		return outbox.Entry{}, err
	}
	q, _ := c.Queue(tag)
	return q.Enqueue(ctx, e)
}

// Trigger runs a drain pass for tag: every entry present when the pass
// starts is replayed once and removed only after the remote accepted it.
// Failed entries stay queued for the next trigger. Once ctx is done the pass
// starts no further entries; those not reached stay queued.
func (c *Coordinator) Trigger(ctx context.Context, tag Tag) (DrainResult, error) {
	if _, err := c.Queue(tag); err != nil {
		return DrainResult{}, err
	}

	// Requests already in flight finish within the request timeout even
	// after the initiating caller goes away.
	passCtx := context.WithoutCancel(ctx)
	v, err, shared := c.group.Do(string(tag), func() (any, error) {
		return c.drain(passCtx, ctx.Done(), tag)
	})
	if shared {
		logrus.WithField("tag", tag).Debug("Joined running drain pass")
	}
	if err != nil {
		return DrainResult{}, err
	}
	return v.(DrainResult), nil
}

func (c *Coordinator) drain(ctx context.Context, stop <-chan struct{}, tag Tag) (DrainResult, error) {
	start := time.Now()
	q, _ := c.Queue(tag)
	result := DrainResult{Tag: tag}

	snap, err := q.Snapshot(ctx)
	if err != nil {
		return result, fmt.Errorf("failed to read %s: %w", q.Name(), err)
	}

	semaphore := make(chan struct{}, c.concurrency)
	var (
		wg          sync.WaitGroup
		mu          sync.Mutex
		scanErr     error
		interrupted bool
	)

	for !interrupted {
		if stopped(stop) {
			interrupted = true
			break
		}
		entry, ok, err := snap.Next(ctx)
		if err != nil {
			scanErr = err
			break
		}
		if !ok {
			break
		}

		select {
		case <-stop:
			interrupted = true
			continue
		case semaphore <- struct{}{}:
		}
		wg.Add(1)
		go func(e outbox.Entry) {
			defer wg.Done()
			defer func() { <-semaphore }()

			synced := c.replay(ctx, tag, q, e)

			mu.Lock()
			defer mu.Unlock()
			result.Attempted++
			if synced {
				result.Synced++
			} else {
				result.Failed++
				result.FailedIDs = append(result.FailedIDs, e.ID)
			}
		}(entry)
	}
	wg.Wait()

	if depth, err := q.Depth(ctx); err == nil {
		result.Pending = depth
		c.metrics.SetQueueDepth(string(q.Name()), depth)
	}
	c.metrics.ObserveDrain(string(tag), time.Since(start).Seconds())

	logrus.WithFields(logrus.Fields{
		"tag":         tag,
		"attempted":   result.Attempted,
		"synced":      result.Synced,
		"failed":      result.Failed,
		"pending":     result.Pending,
		"interrupted": interrupted,
		"duration":    time.Since(start).String(),
	}).Info("Drain pass finished")

	if scanErr != nil {
		return result, fmt.Errorf("drain of %s stopped early: %w", q.Name(), scanErr)
	}
	return result, nil
}

func stopped(stop <-chan struct{}) bool {
	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// replay sends one entry and removes it once the remote accepted it.
func (c *Coordinator) replay(ctx context.Context, tag Tag, q *outbox.Queue, e outbox.Entry) bool {
	log := logrus.WithFields(logrus.Fields{
		"tag":             tag,
		"id":              e.ID,
		"idempotency_key": e.IdempotencyKey,
	})

	if err := c.send(ctx, tag, e); err != nil {
		c.metrics.SyncAttempt(string(tag), "failed")
		log.WithError(err).Warn("Replay failed; entry stays queued")
		return false
	}

	c.metrics.SyncAttempt(string(tag), "synced")
	if err := q.Remove(ctx, e.ID); err != nil {
		// The remote has it; the idempotency key covers the next replay.
		log.WithError(err).Error("Failed to remove synced entry")
	}
	log.Debug("Replayed entry")
	return true
}

// send performs the remote write for e within the request timeout.
func (c *Coordinator) send(ctx context.Context, tag Tag, e outbox.Entry) error {
	token := e.Token
	if token == "" && c.creds != nil {
		token = c.creds.Current()
	}
	if c.creds != nil && token != "" && c.creds.Expired(token) {
		logrus.WithFields(logrus.Fields{
			"tag": tag,
			"id":  e.ID,
		}).Warn("Replaying entry with an expired token")
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	switch tag {
	case TagChatMessages:
		return c.writer.SubmitChatMessage(attemptCtx, token, e.IdempotencyKey, e.Data)
	case TagUserData:
		return c.writer.SubmitUserData(attemptCtx, token, e.IdempotencyKey, e.ComponentType, e.Data)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTag, string(tag))
	}
}

// Submit performs an offline-first write: the remote call is attempted now
// and the entry is queued when it fails for any reason.
func (c *Coordinator) Submit(ctx context.Context, tag Tag, e outbox.Entry) (SubmitResult, error) {
	if err := c.Validate(tag, e); err != nil {
		return SubmitResult{}, err
	}
	if e.IdempotencyKey == "" {
		e.IdempotencyKey = uuid.New().String()
	}

	err := c.send(ctx, tag, e)
	if err == nil {
		c.metrics.SyncAttempt(string(tag), "synced")
		return SubmitResult{Entry: e}, nil
	}
	c.metrics.SyncAttempt(string(tag), "failed")

	queued, enqueueErr := c.Enqueue(ctx, tag, e)
	if enqueueErr != nil {
		return SubmitResult{}, fmt.Errorf("remote write failed (%v) and queueing failed: %w", err, enqueueErr)
	}

	logrus.WithFields(logrus.Fields{
		"tag":   tag,
		"id":    queued.ID,
		"error": err.Error(),
	}).Info("Remote write failed; queued for background sync")
	return SubmitResult{Queued: true, Entry: queued}, nil
}
