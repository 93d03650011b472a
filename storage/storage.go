// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

// Package storage persists downloaded call recordings. Names are flat file
// names; a backend may place them under its own root or key prefix.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
)

// Store is a write-once sink for recording artifacts.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save writes data under name, replacing any existing artifact
	Save(ctx context.Context, name string, data []byte) error
}

// cleanName rejects names that would escape the store root
func cleanName(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name != path.Clean(name) || name == "." || name == ".." {
		return "", fmt.Errorf("storage: invalid name %q", name)
	}
	return name, nil
}
