// Copyright 2025 Google LLC
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

package overlay

import (
	"context"

	"github.com/layerfuse/layerfuse/internal/vfs"
)

// StatFS implements vfs.Engine: space and inode accounting are reported
// for the upper layer, the only one an overlay mount can actually write
// into (spec §4.6's upper/lower asymmetry extends naturally to statfs).
func (e *Engine) StatFS(ctx context.Context) (vfs.StatFS, error) {
	return e.layers[0].StatFS(ctx)
}
