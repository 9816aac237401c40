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


package repository

import (
	"context"
	"io"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"helm.sh/chartrepo/internal/version"
	"helm.sh/chartrepo/pkg/createindex"
	"helm.sh/chartrepo/pkg/events"
	"helm.sh/chartrepo/pkg/getter"
	"helm.sh/chartrepo/pkg/hosted"
	"helm.sh/chartrepo/pkg/proxy"
	"helm.sh/chartrepo/pkg/storage"
)

var (
	// ErrRepositoryNotFound is returned when no repository has the requested name.
	ErrRepositoryNotFound = errors.New("repository not found")
	// ErrRepositoryExists is returned when creating a repository under a taken name.
	ErrRepositoryExists = errors.New("repository already exists")
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// Config describes a repository to create. Zero durations and sizes select
// the package defaults.
type Config struct {
	Name      string
	Type      Type
	RemoteURL string

	// proxy
	MetadataMaxAge        time.Duration
	ContentMaxAge         time.Duration
	Username              string
	Password              string
	CAFile                string
	CertFile              string
	KeyFile               string
	InsecureSkipTLSVerify bool
	PassCredentialsAll    bool
	Timeout               time.Duration
	Getter                getter.Getter

	// hosted
	MaxChartSize    int64
	RebuildInterval time.Duration
}

// Validate checks the configuration of a single repository.
func (c Config) Validate() error {
	if !namePattern.MatchString(c.Name) {
		return errors.Errorf("invalid repository name %q", c.Name)
	}
	switch c.Type {
	case TypeHosted:
	case TypeProxy:
		if c.RemoteURL == "" {
			return errors.Errorf("proxy repository %s requires a remote URL", c.Name)
		}
	default:
		return errors.Errorf("repository %s has unknown type %q", c.Name, c.Type)
	}
	return nil
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithPermission sets the permission checker of hosted repositories.
func WithPermission(p hosted.Permission) ManagerOption {
	return func(m *Manager) {
		m.permissions = p
	}
}

// WithLogger sets the logger handed to every repository.
func WithLogger(log logrus.FieldLogger) ManagerOption {
	return func(m *Manager) {
		m.log = log
	}
}

// Manager creates, looks up and deletes repositories sharing one storage
// and one event bus.
type Manager struct {
	storage     *storage.Storage
	bus         *events.Bus
	permissions hosted.Permission
	log         logrus.FieldLogger

	mu    sync.RWMutex
	repos map[string]*Repository
}

// NewManager returns a manager without repositories. Hosted repositories
// allow every operation unless WithPermission is given.
func NewManager(s *storage.Storage, bus *events.Bus, opts ...ManagerOption) *Manager {
	m := &Manager{
		storage:     s,
		bus:         bus,
		permissions: hosted.AllowAll,
		repos:       map[string]*Repository{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		l := logrus.New()
		l.Out = io.Discard
		m.log = l
	}
	return m
}

// Bus returns the event bus the repositories publish on.
func (m *Manager) Bus() *events.Bus { return m.bus }

// Create builds a repository and registers it. Hosted repositories start
// their index coordinator, and the RepositoryCreated event schedules the
// first index build.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Repository, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r, err := m.register(cfg)
	if err != nil {
		return nil, err
	}
	m.log.WithFields(logrus.Fields{"repository": cfg.Name, "type": cfg.Type}).Info("repository created")
	// handlers may call back into the manager
	m.bus.Publish(events.Event{Type: events.RepositoryCreated, Repository: cfg.Name})
	return r, nil
}

func (m *Manager) register(cfg Config) (*Repository, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.repos[cfg.Name]; ok {
		return nil, errors.Wrapf(ErrRepositoryExists, "%s", cfg.Name)
	}

	r := &Repository{Name: cfg.Name, Type: cfg.Type}
	switch cfg.Type {
	case TypeHosted:
		r.Hosted = hosted.NewFacet(cfg.Name, m.storage, m.bus,
			hosted.WithPermission(m.permissions),
			hosted.WithMaxChartSize(cfg.MaxChartSize),
			hosted.WithLogger(m.log),
		)
		opts := []createindex.Option{createindex.WithLogger(m.log)}
		if cfg.RebuildInterval > 0 {
			opts = append(opts, createindex.WithInterval(cfg.RebuildInterval))
		}
		r.Index = createindex.NewCoordinator(cfg.Name, m.storage, opts...)
		r.unsubscribe = r.Index.Subscribe(m.bus)
		r.Index.Start()
	case TypeProxy:
		f, err := proxy.NewFacet(cfg.Name, cfg.RemoteURL, m.storage, proxyOptions(cfg, m.log)...)
		if err != nil {
			return nil, err
		}
		r.Proxy = f
	}

	m.repos[cfg.Name] = r
	return r, nil
}

func proxyOptions(cfg Config, log logrus.FieldLogger) []proxy.Option {
	opts := []proxy.Option{
		proxy.WithLogger(log),
		proxy.WithGetterOptions(
			getter.WithUserAgent(version.GetUserAgent()),
			getter.WithBasicAuth(cfg.Username, cfg.Password),
			getter.WithTLSClientConfig(cfg.CertFile, cfg.KeyFile, cfg.CAFile),
			getter.WithInsecureSkipVerifyTLS(cfg.InsecureSkipTLSVerify),
			getter.WithPassCredentialsAll(cfg.PassCredentialsAll),
		),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, proxy.WithGetterOptions(getter.WithTimeout(cfg.Timeout)))
	}
	if cfg.MetadataMaxAge != 0 {
		opts = append(opts, proxy.WithMetadataMaxAge(cfg.MetadataMaxAge))
	}
	if cfg.ContentMaxAge != 0 {
		opts = append(opts, proxy.WithContentMaxAge(cfg.ContentMaxAge))
	}
	if cfg.Getter != nil {
		opts = append(opts, proxy.WithGetter(cfg.Getter))
	}
	return opts
}

// Get returns the named repository.
func (m *Manager) Get(name string) (*Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[name]
	if !ok {
		return nil, errors.Wrapf(ErrRepositoryNotFound, "%s", name)
	}
	return r, nil
}

// List returns every repository, sorted by name.
func (m *Manager) List() []*Repository {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]*Repository, 0, len(m.repos))
	for _, r := range m.repos {
		res = append(res, r)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Delete unregisters the named repository and removes its index. Packages
// stay in storage.
func (m *Manager) Delete(ctx context.Context, name string) error {
	m.mu.Lock()
	r, ok := m.repos[name]
	delete(m.repos, name)
	m.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrRepositoryNotFound, "%s", name)
	}

	if r.Index != nil {
		// a pending rebuild must not publish after the index is gone
		r.Index.Stop()
	}
	m.bus.Publish(events.Event{Type: events.RepositoryDeleted, Repository: name})
	if r.unsubscribe != nil {
		r.unsubscribe()
	}
	if r.Type == TypeProxy {
		if _, err := m.storage.DeleteIndex(ctx, name); err != nil {
			return errors.Wrapf(err, "deleting cached index of %s", name)
		}
	}
	m.log.WithField("repository", name).Info("repository deleted")
	return nil
}

// Close stops the index coordinators of all repositories. Scheduled
// rebuilds run before Close returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	repos := make([]*Repository, 0, len(m.repos))
	for _, r := range m.repos {
		repos = append(repos, r)
	}
	m.mu.Unlock()

	var g errgroup.Group
	for _, r := range repos {
		if r.Index == nil {
			continue
		}
		c := r.Index
		g.Go(func() error {
			c.Stop()
			return nil
		})
	}
	return g.Wait()
}
