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

package events

import (
	"fmt"
	"sync"

	"helm.sh/chartrepo/pkg/asset"
)

// Type names a kind of event.
type Type string

const (
	// RepositoryCreated is published once a repository is ready to serve.
	RepositoryCreated Type = "repository-created"
	// RepositoryDeleted is published when a repository is removed.
	RepositoryDeleted Type = "repository-deleted"
	// AssetStored is published after an asset was written.
	AssetStored Type = "asset-stored"
	// AssetDeleted is published after an asset was removed.
	AssetDeleted Type = "asset-deleted"
	// IndexInvalidated asks for the index of a repository to be rebuilt.
	IndexInvalidated Type = "index-invalidated"
)

// Event describes a change to a repository. Path and Kind are only set for
// asset events.
type Event struct {
	Type       Type
	Repository string
	Path       string
	Kind       asset.Kind
}

func (e Event) String() string {
	if e.Path == "" {
		return fmt.Sprintf("%s %s", e.Type, e.Repository)
	}
	return fmt.Sprintf("%s %s/%s", e.Type, e.Repository, e.Path)
}

// Handler responds to an event.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus dispatches events to the handlers subscribed to their type.
//
// The zero value is ready to use. A Bus is safe for concurrent use, and
// handlers may subscribe or publish from within a handler.
type Bus struct {
	mu       sync.RWMutex
	nextID   uint64
	handlers map[Type][]subscription
}

// New creates a new Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe binds h to events of type t. The returned function removes the
// binding again; calling it more than once is harmless.
func (b *Bus) Subscribe(t Type, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.handlers == nil {
		b.handlers = map[Type][]subscription{}
	}
	b.nextID++
	id := b.nextID
	b.handlers[t] = append(b.handlers[t], subscription{id: id, handler: h})

	return func() { b.remove(t, id) }
}

func (b *Bus) remove(t Type, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[t]
	for i, s := range subs {
		if s.id == id {
			b.handlers[t] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}
}

// Handlers returns the number of handlers bound to t.
func (b *Bus) Handlers(t Type) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[t])
}

// Publish calls every handler bound to the type of e, synchronously. A nil
// Bus drops the event.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	subs := b.handlers[e.Type]
	b.mu.RUnlock()

	// subs is never modified in place, so it is safe to range over
	// without the lock.
	for _, s := range subs {
		s.handler(e)
	}
}
