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

package render

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// ValsResolver shells out to a same-named external binary to resolve a
// secret reference, the same external-resolver indirection the platform
// uses for its secrets provider registry. The default resolver invokes
// `vals eval <ref>` and returns its trimmed stdout; a non-zero exit fails
// the render.
type ValsResolver func(ctx context.Context, ref string) (string, error)

// DefaultValsResolver runs `vals eval <ref>` as a subprocess.
func DefaultValsResolver(ctx context.Context, ref string) (string, error) {
	cmd := exec.CommandContext(ctx, "vals", "eval", ref)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("vals eval %s: %w: %s", ref, err, strings.TrimSpace(stderr.String()))
	}

	return strings.TrimSpace(stdout.String()), nil
}
