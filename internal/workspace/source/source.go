// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package source provides the two polymorphic workspace origins (a
// local folder and a git remote) behind one capability set.
package source

import "context"

// Source is where the workspace's files actually live. Both variants
// sync on demand, report their current revision, and notify a callback
// when the underlying content changes.
type Source interface {
	// Sync brings the local working copy up to date and returns its
	// resulting revision.
	Sync(ctx context.Context) (string, error)

	// Revision returns the last revision observed by Sync, or ok=false
	// if Sync has never run.
	Revision() (revision string, ok bool)

	// Watch blocks, invoking onChange whenever the content changes, until
	// ctx is cancelled.
	Watch(ctx context.Context, onChange func())
}
