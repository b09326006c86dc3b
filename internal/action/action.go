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

// Package action executes a workspace-declared action against a rendered
// input and reports its structured output.
package action

import "context"

// Action is a named, reusable unit of execution. The only implementation
// the core platform ships is shell.
type Action interface {
	Execute(ctx context.Context, input map[string]any) (output map[string]any, err error)
}
