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

package hosted

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
)

// ErrPermissionDenied is returned when the permission checker refuses an
// operation or cannot decide.
var ErrPermissionDenied = errors.New("permission denied")

// Action is an operation on a repository path.
type Action string

const (
	// ActionRead reads an asset.
	ActionRead Action = "read"
	// ActionWrite stores or replaces an asset.
	ActionWrite Action = "write"
	// ActionDelete removes an asset.
	ActionDelete Action = "delete"
)

// Permission decides whether an action on a repository path is allowed.
type Permission interface {
	Permitted(ctx context.Context, repository, path string, action Action) (bool, error)
}

// PermissionFunc adapts a function to the Permission interface.
type PermissionFunc func(ctx context.Context, repository, path string, action Action) (bool, error)

// Permitted calls f.
func (f PermissionFunc) Permitted(ctx context.Context, repository, path string, action Action) (bool, error) {
	return f(ctx, repository, path, action)
}

// AllowAll permits every action.
var AllowAll = PermissionFunc(func(context.Context, string, string, Action) (bool, error) {
	return true, nil
})

// ReadOnly permits reads only.
var ReadOnly = PermissionFunc(func(_ context.Context, _, _ string, action Action) (bool, error) {
	return action == ActionRead, nil
})

// PermissionError records a refused action. It unwraps to
// ErrPermissionDenied.
type PermissionError struct {
	Repository string
	Path       string
	Action     Action
	// Err is the checker failure, if the checker failed.
	Err error
}

func (e *PermissionError) Error() string {
	msg := fmt.Sprintf("%s %s/%s: %s", e.Action, e.Repository, e.Path, ErrPermissionDenied)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns ErrPermissionDenied.
func (e *PermissionError) Unwrap() error { return ErrPermissionDenied }

// check consults p and fails closed: a nil checker or a checker error both
// deny.
func check(ctx context.Context, p Permission, repository, path string, action Action) error {
	if p == nil {
		return &PermissionError{Repository: repository, Path: path, Action: action}
	}
	ok, err := p.Permitted(ctx, repository, path, action)
	if err != nil || !ok {
		return &PermissionError{Repository: repository, Path: path, Action: action, Err: err}
	}
	return nil
}
