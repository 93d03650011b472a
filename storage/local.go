// SPDX-License-Identifier: GPL-3.0-or-later

// Copyright (c) 2025 Spruce Health

package storage

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// DefaultLocalDir is where recordings land when no other backend is configured
const DefaultLocalDir = "./post-call-data"

// Local writes recordings into a directory on local disk
type Local struct {
	root string
}

// NewLocal creates a Local store rooted at dir, creating it when missing
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		dir = DefaultLocalDir
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute directory recordings are written to
func (l *Local) Root() string {
	return l.root
}

// Save writes the file through a temporary sibling so readers never see a
// partial recording
func (l *Local) Save(_ context.Context, name string, data []byte) error {
	name, err := cleanName(name)
	if err != nil {
		return err
	}
	full := filepath.Join(l.root, name)
	tmp, err := os.CreateTemp(l.root, "."+name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), full); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	log.Debug().Str("module", "storage").Str("file", full).Int("bytes", len(data)).Msg("recording written")
	return nil
}

var _ Store = (*Local)(nil)
