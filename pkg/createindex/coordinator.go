/*
Copyright The Helm Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package createindex

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"helm.sh/chartrepo/pkg/asset"
	"helm.sh/chartrepo/pkg/events"
	"helm.sh/chartrepo/pkg/repo"
	"helm.sh/chartrepo/pkg/storage"
)

// DefaultInterval is how long a Coordinator waits after an invalidation
// before it rebuilds.
const DefaultInterval = time.Second

// State is the rebuild state of a Coordinator.
type State int

const (
	// Idle means the published index is up to date.
	Idle State = iota
	// Scheduled means a rebuild will start once the interval has passed.
	Scheduled
	// Rebuilding means a scan is running.
	Rebuilding
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Scheduled:
		return "scheduled"
	case Rebuilding:
		return "rebuilding"
	}
	return "unknown"
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval sets the time between an invalidation and the rebuild.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger of the coordinator.
func WithLogger(log logrus.FieldLogger) Option {
	return func(c *Coordinator) {
		c.log = log
	}
}

// WithBuilder replaces the default Builder.
func WithBuilder(b *Builder) Option {
	return func(c *Coordinator) {
		c.builder = b
	}
}

// Coordinator keeps the published index of one hosted repository in step
// with its packages.
//
// Invalidations never block. The first one schedules a rebuild; further
// ones are absorbed until the rebuild starts, because the scan happens
// after the wait and sees their changes. An invalidation that arrives while
// a scan runs schedules exactly one more rebuild once it finishes.
type Coordinator struct {
	repository string
	storage    *storage.Storage
	builder    *Builder
	interval   time.Duration
	log        logrus.FieldLogger

	mu       sync.Mutex
	state    State
	followUp bool
	stopped  bool
	rebuilds uint64

	requests chan struct{}
	stop     chan struct{}
	done     chan struct{}
	cancel   context.CancelFunc

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewCoordinator returns a stopped Coordinator for repository.
func NewCoordinator(repository string, s *storage.Storage, opts ...Option) *Coordinator {
	c := &Coordinator{
		repository: repository,
		storage:    s,
		interval:   DefaultInterval,
		requests:   make(chan struct{}, 1),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = discardLogger()
	}
	c.log = c.log.WithField("repository", repository)
	if c.builder == nil {
		c.builder = NewBuilder(s, c.log)
	}
	return c
}

// Repository is the name of the repository the coordinator serves.
func (c *Coordinator) Repository() string { return c.repository }

// State returns the current rebuild state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Rebuilds returns the number of rebuilds that have run, failed ones
// included.
func (c *Coordinator) Rebuilds() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rebuilds
}

// Start launches the worker. It has no effect after the first call.
func (c *Coordinator) Start() {
	c.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		go c.run(ctx)
	})
}

// Stop ends the worker. A scheduled rebuild runs immediately instead of
// waiting out the interval. Stop blocks until the worker has exited.
func (c *Coordinator) Stop() {
	c.stopOnce.Do(func() {
		c.mu.Lock()
		c.stopped = true
		c.mu.Unlock()

		close(c.stop)
		// never started: nothing to wait for
		c.startOnce.Do(func() { close(c.done) })
		<-c.done
		if c.cancel != nil {
			c.cancel()
		}
	})
}

// InvalidateIndex marks the published index as out of date.
func (c *Coordinator) InvalidateIndex() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		c.log.Debug("coordinator stopped, ignoring invalidation")
		return
	}
	switch c.state {
	case Idle:
		c.state = Scheduled
		c.signal()
		c.log.Debugf("index rebuild scheduled in %s", c.interval)
	case Scheduled:
		c.log.Debug("index rebuild already scheduled")
	case Rebuilding:
		c.followUp = true
		c.log.Debug("index rebuild running, scheduling another")
	}
}

// DeleteIndex removes the published index right away.
func (c *Coordinator) DeleteIndex(ctx context.Context) error {
	if _, err := c.storage.DeleteIndex(ctx, c.repository); err != nil {
		return errors.Wrapf(err, "deleting index of %s", c.repository)
	}
	c.log.Info("index deleted")
	return nil
}

// Subscribe binds the coordinator to the events of its repository. The
// returned function removes every binding.
func (c *Coordinator) Subscribe(bus *events.Bus) (unsubscribe func()) {
	ours := func(h events.Handler) events.Handler {
		return func(e events.Event) {
			if e.Repository == c.repository {
				h(e)
			}
		}
	}
	invalidate := func(events.Event) { c.InvalidateIndex() }
	packageChanged := func(e events.Event) {
		if e.Kind == asset.KindPackage {
			c.InvalidateIndex()
		}
	}
	deleted := func(events.Event) {
		if err := c.DeleteIndex(context.Background()); err != nil {
			c.log.WithError(err).Error("failed to delete index")
		}
	}

	unsubs := []func(){
		bus.Subscribe(events.RepositoryCreated, ours(invalidate)),
		bus.Subscribe(events.RepositoryDeleted, ours(deleted)),
		bus.Subscribe(events.AssetStored, ours(packageChanged)),
		bus.Subscribe(events.AssetDeleted, ours(packageChanged)),
		bus.Subscribe(events.IndexInvalidated, ours(invalidate)),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// signal wakes the worker. Must be called with c.mu held.
func (c *Coordinator) signal() {
	select {
	case c.requests <- struct{}{}:
	default:
	}
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			c.drain(ctx)
			return
		case <-c.requests:
		}

		stopped := c.wait()
		c.rebuild(ctx)
		if stopped {
			c.drain(ctx)
			return
		}
	}
}

// wait sleeps for the interval and reports whether it was cut short by Stop.
func (c *Coordinator) wait() bool {
	t := time.NewTimer(c.interval)
	defer t.Stop()
	select {
	case <-t.C:
		return false
	case <-c.stop:
		return true
	}
}

// drain runs the rebuilds still pending at shutdown.
func (c *Coordinator) drain(ctx context.Context) {
	for {
		select {
		case <-c.requests:
			c.rebuild(ctx)
		default:
			return
		}
	}
}

func (c *Coordinator) rebuild(ctx context.Context) {
	c.mu.Lock()
	c.state = Rebuilding
	c.followUp = false
	c.rebuilds++
	c.mu.Unlock()
	defer c.finish()

	start := time.Now()
	c.log.Info("rebuilding index")

	index, err := c.builder.Build(ctx, c.repository)
	if err != nil {
		c.log.WithError(err).Error("index rebuild failed")
		return
	}

	if index.Len() == 0 {
		if _, err := c.storage.DeleteIndex(ctx, c.repository); err != nil {
			c.log.WithError(err).Error("failed to delete empty index")
			return
		}
		c.log.WithField("duration", time.Since(start)).Info("repository is empty, index deleted")
		return
	}

	content, err := repo.EncodeContent(index)
	if err != nil {
		c.log.WithError(err).Error("index rebuild failed")
		return
	}
	if _, err := c.storage.PutIndex(ctx, c.repository, content); err != nil {
		c.log.WithError(err).Error("failed to store index")
		return
	}
	c.log.WithFields(logrus.Fields{
		"entries":  index.Len(),
		"digest":   content.Digest.String(),
		"duration": time.Since(start),
	}).Info("index rebuilt")
}

// finish leaves the Rebuilding state, whichever way the rebuild ended.
func (c *Coordinator) finish() {
	if r := recover(); r != nil {
		c.log.WithField("panic", r).Error("index rebuild panicked")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.followUp {
		c.followUp = false
		c.state = Scheduled
		c.signal()
		return
	}
	c.followUp = false
	c.state = Idle
}
