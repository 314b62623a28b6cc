// Package discovery implements the PlaybookProcessInfo discovery file
// (spec.md §3, §6.4): ${TMPDIR:-/tmp}/ANSIBUG-<pid>, a JSON file written by
// listen mode at startup and read by attach-by-pid, deleted on normal
// exit (SPEC_FULL.md PART E.3).
package discovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"
)

// Info is the discovery file's JSON shape.
type Info struct {
	Address string `json:"address"`
	UseTLS  bool   `json:"use_tls"`
}

func path(pid int) string {
	dir := os.Getenv("TMPDIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, fmt.Sprintf("ANSIBUG-%d", pid))
}

// Write persists the discovery file for the current process, holding an
// advisory file lock across the write so a racing attach never observes a
// half-written file (SPEC_FULL.md PART C, github.com/gofrs/flock).
func Write(info Info) error {
	p := path(os.Getpid())

	lock := flock.New(p + ".lock")
	if err := lock.Lock(); err != nil {
		return errors.Wrap(err, "discovery: acquire lock")
	}
	defer lock.Unlock()

	b, err := json.Marshal(info)
	if err != nil {
		return errors.Wrap(err, "discovery: marshal")
	}

	if err := os.WriteFile(p, b, 0o600); err != nil {
		return errors.Wrap(err, "discovery: write file")
	}
	return nil
}

// Read loads the discovery file for the given pid.
func Read(pid int) (Info, error) {
	p := path(pid)

	lock := flock.New(p + ".lock")
	if err := lock.Lock(); err != nil {
		return Info{}, errors.Wrap(err, "discovery: acquire lock")
	}
	defer lock.Unlock()

	b, err := os.ReadFile(p)
	if err != nil {
		return Info{}, errors.Wrapf(err, "discovery: read file for pid %d", pid)
	}

	var info Info
	if err := json.Unmarshal(b, &info); err != nil {
		return Info{}, errors.Wrap(err, "discovery: unmarshal")
	}
	return info, nil
}

// Remove deletes the discovery file and its lock sidecar for the current
// process. Safe to call on signal-driven shutdown as well as normal exit.
func Remove() error {
	p := path(os.Getpid())
	if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "discovery: remove file")
	}
	_ = os.Remove(p + ".lock")
	return nil
}
