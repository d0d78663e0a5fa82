// Package epochmanager maps wall-clock time to the discrete, monotonically
// increasing epoch numbering that every other component times itself by.
package epochmanager

import (
	"errors"
	"sync"
	"time"

	"github.com/witnet/witnet-go/chain"
)

// Errors returned by EpochAt/EpochTimestamp. These mirror the
// two ways epoch arithmetic can fail at runtime: epoch zero and
// the checkpoint period are always known once a Clock is constructed, so
// the only runtime failure modes left are a timestamp that precedes epoch
// zero and an epoch whose timestamp would overflow.
var (
	ErrCheckpointZeroInFuture = errors.New("epochmanager: timestamp precedes checkpoint zero")
	ErrTimestampOverflow      = errors.New("epochmanager: epoch timestamp overflows")
)

// SubscriptionMode selects how often a subscriber is notified.
type SubscriptionMode int

const (
	// EveryEpoch notifies the subscriber once per epoch boundary crossed,
	// for as long as the subscription is active.
	EveryEpoch SubscriptionMode = iota
	// AtEpochN notifies the subscriber exactly once, the first time the
	// clock observes current epoch >= the target epoch, then deactivates.
	AtEpochN
)

// Notification is delivered to a subscriber once per tick. Gap is true when
// the clock observed more than one epoch boundary elapse since the
// subscriber's last notification (e.g. after a process stall): the consumer
// must not treat this as a normal single-epoch advance.
type Notification struct {
	Epoch     chain.Epoch
	Timestamp time.Time
	Gap       bool
}

// EpochEvent encapsulates an ongoing subscription to epoch notifications.
// Epochs receives one Notification per matching tick; it is buffered so a
// slow consumer cannot stall the clock's notify loop.
type EpochEvent struct {
	Epochs chan Notification

	cancel func()
}

// Cancel deregisters the subscription. Safe to call more than once.
func (e *EpochEvent) Cancel() {
	e.cancel()
}

type subscriber struct {
	id           uint64
	sink         chan Notification
	mode         SubscriptionMode
	targetEpoch  chain.Epoch
	lastSeen     chain.Epoch
	haveLastSeen bool
	fired        bool // AtEpochN only
}

// Clock computes epoch boundaries from (checkpointZeroTimestamp,
// periodSeconds) and notifies subscribers once per crossing.
type Clock struct {
	checkpointZeroTimestamp int64
	periodSeconds           uint16

	mu        sync.Mutex
	subs      map[uint64]*subscriber
	nextSubID uint64

	quit chan struct{}
	wg   sync.WaitGroup

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// NewClock constructs a Clock. A zero periodSeconds is coerced to 1, the
// same minimum the reference epoch manager enforces, and logged as a
// warning rather than rejected outright.
func NewClock(checkpointZeroTimestamp int64, periodSeconds uint16) *Clock {
	if periodSeconds == 0 {
		log.Warnf("epochmanager: checkpoint period of 0 is invalid, coercing to 1 second")
		periodSeconds = 1
	}
	return &Clock{
		checkpointZeroTimestamp: checkpointZeroTimestamp,
		periodSeconds:           periodSeconds,
		subs:                    make(map[uint64]*subscriber),
		quit:                    make(chan struct{}),
		now:                     time.Now,
	}
}

// EpochAt returns the epoch whose interval contains t.
func (c *Clock) EpochAt(t time.Time) (chain.Epoch, error) {
	elapsed := t.Unix() - c.checkpointZeroTimestamp
	if elapsed < 0 {
		return 0, ErrCheckpointZeroInFuture
	}
	return chain.Epoch(uint64(elapsed) / uint64(c.periodSeconds)), nil
}

// CurrentEpoch returns EpochAt(now).
func (c *Clock) CurrentEpoch() (chain.Epoch, error) {
	return c.EpochAt(c.now())
}

// EpochTimestamp returns the wall-clock instant at which epoch e begins.
func (c *Clock) EpochTimestamp(e chain.Epoch) (time.Time, error) {
	period := uint64(c.periodSeconds)
	offset := period * uint64(e)
	if period != 0 && offset/period != uint64(e) {
		return time.Time{}, ErrTimestampOverflow
	}
	if offset > 1<<62 {
		return time.Time{}, ErrTimestampOverflow
	}
	sum := c.checkpointZeroTimestamp + int64(offset)
	if sum < c.checkpointZeroTimestamp {
		return time.Time{}, ErrTimestampOverflow
	}
	return time.Unix(sum, 0), nil
}

// RegisterEveryEpochNtfn subscribes to a notification on every epoch
// boundary until the returned event is cancelled.
func (c *Clock) RegisterEveryEpochNtfn() *EpochEvent {
	return c.register(EveryEpoch, 0)
}

// RegisterEpochNtfn subscribes to a single notification the first time the
// clock's current epoch reaches target.
func (c *Clock) RegisterEpochNtfn(target chain.Epoch) *EpochEvent {
	return c.register(AtEpochN, target)
}

func (c *Clock) register(mode SubscriptionMode, target chain.Epoch) *EpochEvent {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++

	sub := &subscriber{
		id:          id,
		sink:        make(chan Notification, 8),
		mode:        mode,
		targetEpoch: target,
	}
	c.subs[id] = sub

	return &EpochEvent{
		Epochs: sub.sink,
		cancel: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if s, ok := c.subs[id]; ok {
				close(s.sink)
				delete(c.subs, id)
			}
		},
	}
}

// Start runs the notify loop in a background goroutine. It returns
// immediately; call Stop to shut it down.
func (c *Clock) Start() {
	c.wg.Add(1)
	go c.run()
}

// Stop terminates the notify loop and closes every subscriber channel.
func (c *Clock) Stop() {
	close(c.quit)
	c.wg.Wait()

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, s := range c.subs {
		close(s.sink)
		delete(c.subs, id)
	}
}

func (c *Clock) run() {
	defer c.wg.Done()

	current, err := c.CurrentEpoch()
	if err != nil {
		log.Errorf("epochmanager: cannot start clock: %v", err)
		return
	}

	for {
		nextEpoch := current + 1
		nextBoundary, err := c.EpochTimestamp(nextEpoch)
		if err != nil {
			log.Errorf("epochmanager: cannot compute next boundary: %v", err)
			return
		}

		wait := time.Until(nextBoundary)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-c.quit:
			timer.Stop()
			return
		case now := <-timer.C:
			actual, err := c.EpochAt(now)
			if err != nil {
				log.Errorf("epochmanager: cannot compute current epoch: %v", err)
				continue
			}
			c.notify(actual, now)
			current = actual
		}
	}
}

func (c *Clock) notify(epoch chain.Epoch, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, s := range c.subs {
		switch s.mode {
		case EveryEpoch:
			gap := s.haveLastSeen && epoch > s.lastSeen+1
			select {
			case s.sink <- Notification{Epoch: epoch, Timestamp: at, Gap: gap}:
			default:
				log.Warnf("epochmanager: subscriber %d is not draining notifications, dropping tick for epoch %d", id, epoch)
			}
			s.lastSeen = epoch
			s.haveLastSeen = true

		case AtEpochN:
			if s.fired || epoch < s.targetEpoch {
				continue
			}
			select {
			case s.sink <- Notification{Epoch: epoch, Timestamp: at, Gap: epoch > s.targetEpoch}:
			default:
				log.Warnf("epochmanager: subscriber %d is not draining notifications, dropping one-shot for epoch %d", id, epoch)
			}
			s.fired = true
		}
	}
}
