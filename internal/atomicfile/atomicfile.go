// Package atomicfile implements the write-temp-fsync-rename sequence used
// throughout silo for every durable single-file artifact: version
// payloads, ref files, HEAD, locks, last_migration.txt. A crash at any
// point leaves either the old file or the new one, never a partial
// write.
package atomicfile

import (
	"io"
	"os"
)

// Write creates dst (in directory dir) atomically by writing through a
// temp file, syncing it to disk, then renaming it into place.
func Write(dir, dst string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if err := write(tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

// WriteString is a convenience wrapper for the common case of writing a
// single string (HEAD files, ref files, last_migration.txt).
func WriteString(dir, dst, content string) error {
	return Write(dir, dst, func(w io.Writer) error {
		_, err := io.WriteString(w, content)
		return err
	})
}
