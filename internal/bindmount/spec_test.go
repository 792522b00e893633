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

package bindmount_test

import (
	"testing"

	"github.com/layerfuse/layerfuse/internal/bindmount"
)

func TestParseSpecTargetOnly(t *testing.T) {
	s, err := bindmount.ParseSpec("dev")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if s.Target != "dev" || s.HostPath != "/dev" || s.ReadOnly {
		t.Errorf("ParseSpec(\"dev\") = %+v", s)
	}
}

func TestParseSpecWithHostPath(t *testing.T) {
	s, err := bindmount.ParseSpec("etc/resolv.conf:/etc/resolv.conf")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if s.Target != "etc/resolv.conf" || s.HostPath != "/etc/resolv.conf" || s.ReadOnly {
		t.Errorf("ParseSpec = %+v", s)
	}
}

func TestParseSpecReadOnly(t *testing.T) {
	s, err := bindmount.ParseSpec("usr/share/zoneinfo:/usr/share/zoneinfo:ro")
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if !s.ReadOnly {
		t.Errorf("ParseSpec = %+v, want ReadOnly", s)
	}
}

func TestParseSpecRejectsBadOption(t *testing.T) {
	if _, err := bindmount.ParseSpec("a:/b:rw"); err == nil {
		t.Errorf("ParseSpec accepted an unrecognised trailing option")
	}
}

func TestParseSpecRejectsEmpty(t *testing.T) {
	if _, err := bindmount.ParseSpec(""); err == nil {
		t.Errorf("ParseSpec accepted an empty specifier")
	}
	if _, err := bindmount.ParseSpec(":/host"); err == nil {
		t.Errorf("ParseSpec accepted an empty target")
	}
}

func TestParseSpecsStopsAtFirstError(t *testing.T) {
	_, err := bindmount.ParseSpecs([]string{"a:/a", "bad:/b:nope"})
	if err == nil {
		t.Errorf("ParseSpecs accepted an invalid entry")
	}
}
