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

// Package clock provides an injectable source of time, so that tests for
// copy-up and whiteout timestamps don't depend on wall-clock time.
package clock

import "time"

// Clock is the source of time used throughout the engine. Production code
// uses RealClock; tests use FakeClock or SimulatedClock.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After notifies on the returned channel once the given duration has
	// elapsed, as time.After does.
	After(time.Duration) <-chan time.Time
}
