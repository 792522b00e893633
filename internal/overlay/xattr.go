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
)

// GetXattr implements vfs.Engine: reads from whichever layer is currently
// authoritative, since reads don't need a copy-up.
func (e *Engine) GetXattr(ctx context.Context, stable ids.StableInode, name string) ([]byte, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return nil, err
	}
	nd.mu.Lock()
	layer, layerStable := nd.authLayer, nd.authStable
	nd.mu.Unlock()
	return e.layers[layer].GetXattr(ctx, layerStable, name)
}

// ListXattr implements vfs.Engine.
func (e *Engine) ListXattr(ctx context.Context, stable ids.StableInode) ([]string, error) {
	nd, err := e.getNode(stable)
	if err != nil {
		return nil, err
	}
	nd.mu.Lock()
	layer, layerStable := nd.authLayer, nd.authStable
	nd.mu.Unlock()
	return e.layers[layer].ListXattr(ctx, layerStable)
}

// SetXattr implements vfs.Engine: a mutation, so it forces copy-up first.
func (e *Engine) SetXattr(ctx context.Context, stable ids.StableInode, name string, value []byte, flags int) error {
	nd, err := e.getNode(stable)
	if err != nil {
		return err
	}
	if nd.isDir {
		if _, err := e.ensureUpperDir(ctx, nd); err != nil {
			return err
		}
	} else if err := e.copyUp(ctx, nd); err != nil {
		return err
	}

	nd.mu.Lock()
	layerStable := nd.authStable
	if nd.isDir {
		layerStable = nd.perLayer[0]
	}
	nd.mu.Unlock()
	return e.layers[0].SetXattr(ctx, layerStable, name, value, flags)
}

// RemoveXattr implements vfs.Engine: also a mutation.
func (e *Engine) RemoveXattr(ctx context.Context, stable ids.StableInode, name string) error {
	nd, err := e.getNode(stable)
	if err != nil {
		return err
	}
	if nd.isDir {
		if _, err := e.ensureUpperDir(ctx, nd); err != nil {
			return err
		}
	} else if err := e.copyUp(ctx, nd); err != nil {
		return err
	}

	nd.mu.Lock()
	layerStable := nd.authStable
	if nd.isDir {
		layerStable = nd.perLayer[0]
	}
	nd.mu.Unlock()
	return e.layers[0].RemoveXattr(ctx, layerStable, name)
}
