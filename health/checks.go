// Copyright (C) 2025 sage-x-project
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.

// SPDX-License-Identifier: LGPL-3.0-or-later

package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/omerta-project/omerta/vm/tracker"
)

// MeshTransportAlive wraps a transport local-address getter into a mesh
// connectivity health check -- a nil getter means the transport hasn't
// been wired into the checker yet, which counts as unhealthy rather
// than being silently skipped.
func MeshTransportAlive(localAddr func() string) HealthCheck {
	return func(ctx context.Context) error {
		if localAddr == nil {
			return fmt.Errorf("mesh transport not wired")
		}
		if localAddr() == "" {
			return fmt.Errorf("mesh transport has no local address")
		}
		return nil
	}
}

// VMTrackerReadable checks that the VM lifecycle tracker file can be
// opened and its JSON decoded, the way Open/OpenAt do at startup.
func VMTrackerReadable(path string) HealthCheck {
	return func(ctx context.Context) error {
		if _, err := tracker.OpenAt(path); err != nil {
			return fmt.Errorf("vm tracker unreadable: %w", err)
		}
		return nil
	}
}

// EventLogWritable checks that the event log directory exists and
// accepts writes, since a stuck disk must surface before a VM request
// silently fails to leave an audit trail.
func EventLogWritable(dir string) HealthCheck {
	return func(ctx context.Context) error {
		if dir == "" {
			return fmt.Errorf("event log directory not configured")
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("event log directory unusable: %w", err)
		}
		probe := filepath.Join(dir, ".health-probe")
		if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
			return fmt.Errorf("event log directory not writable: %w", err)
		}
		return os.Remove(probe)
	}
}
