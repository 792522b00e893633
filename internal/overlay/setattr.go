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

	"github.com/layerfuse/layerfuse/internal/ids"
	"github.com/layerfuse/layerfuse/internal/vfs"
)

// SetAttr implements vfs.Engine: any attribute change is a mutation, so it
// forces copy-up first (spec §4.6) before touching the now-upper copy.
func (e *Engine) SetAttr(ctx context.Context, stable ids.StableInode, req vfs.SetAttrRequest) (vfs.Attr, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return vfs.Attr{}, err
	}

	if nd.isDir {
		if _, err := e.ensureUpperDir(ctx, nd); err != nil {
			return vfs.Attr{}, err
		}
	} else if err := e.copyUp(ctx, nd); err != nil {
		return vfs.Attr{}, err
	}

	nd.mu.Lock()
	layer, layerStable := nd.authLayer, nd.authStable
	if nd.isDir {
		layer, layerStable = 0, nd.perLayer[0]
	}
	nd.mu.Unlock()

	attr, err := e.layers[layer].SetAttr(ctx, layerStable, req)
	if err != nil {
		return vfs.Attr{}, err
	}
	attr.Stable = stable
	return attr, nil
}
