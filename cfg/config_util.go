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

package cfg

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/layerfuse/layerfuse/internal/uidmap"
)

// ParseMapping parses a "host:visible:length[,host:visible:length...]"
// mapping expression (spec §6's `mapping` key) into uidmap.Range values.
func ParseMapping(expr string) ([]uidmap.Range, error) {
	if expr == "" {
		return nil, nil
	}

	fields := strings.Split(expr, ",")
	ranges := make([]uidmap.Range, 0, len(fields))
	for _, f := range fields {
		parts := strings.Split(f, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("mapping: %q must have the form host:visible:length", f)
		}

		host, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("mapping: %q: invalid host id: %w", f, err)
		}
		visible, err := strconv.ParseUint(parts[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("mapping: %q: invalid visible id: %w", f, err)
		}
		length, err := strconv.ParseUint(parts[2], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("mapping: %q: invalid length: %w", f, err)
		}

		ranges = append(ranges, uidmap.Range{
			HostStart:    uint32(host),
			VisibleStart: uint32(visible),
			Length:       uint32(length),
		})
	}
	return ranges, nil
}
