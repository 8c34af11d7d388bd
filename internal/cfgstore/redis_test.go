// Copyright 2025 Esteban Alvarez. All Rights Reserved.
//
// Created: October 2025
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

package cfgstore

import (
	"testing"
	"time"
)

func TestRegisterCfgKey_Helpers(t *testing.T) {
	k := RegisterCfgKey{ContainerID: 1, ModuleID: 2, ParamID: 3}

	if got, want := k.redisHashKey(), "gc:cfg:1:2"; got != want {
		t.Errorf("redisHashKey() = %q, want %q", got, want)
	}
	if got, want := k.redisField(), "3"; got != want {
		t.Errorf("redisField() = %q, want %q", got, want)
	}
	if got, want := k.redisMarkerKey("commit-1"), "gc:cfgmark:1:2:3:commit-1"; got != want {
		t.Errorf("redisMarkerKey() = %q, want %q", got, want)
	}
}

func TestNewRedisRegistry_DefaultTTL(t *testing.T) {
	r := NewRedisRegistry(nil, 0)
	if r.markerTTL != 24*time.Hour {
		t.Errorf("markerTTL = %v, want 24h default", r.markerTTL)
	}
}

func TestNewRedisRegistry_KeepsExplicitTTL(t *testing.T) {
	r := NewRedisRegistry(nil, time.Hour)
	if r.markerTTL != time.Hour {
		t.Errorf("markerTTL = %v, want 1h", r.markerTTL)
	}
}

// Pure key-derivation is exercised above; RegisterCfg/GetCfg/SetCfg
// themselves go through redis.Cmdable's full surface (scripting + hash
// commands), which is best exercised against a real or containerized Redis
// rather than a hand-rolled fake of a ~300-method interface — left to the
// integration layer, not this package's unit tests.
