// Package persist implements the catalog's on-disk JSON snapshot: an
// atomically-written dump file and the loader that restores a catalog
// from one.
package persist

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/kil/ubervisor/internal/catalog"
)

// DumpPrefix is the filename prefix LoadNewest scans for.
const DumpPrefix = "uberdump"

// maxDumpName mirrors the source's PATH_MAX guard on candidate names.
const maxDumpName = 4096

// Writer produces atomic dump files in a directory, numbering them
// with a counter that only ever increases for the life of the process
// (matching the source's monotonic dump counter).
type Writer struct {
	dir     string
	counter uint64
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

// Dump serializes groups to a new file in insertion order and returns
// its final path. The write goes to a temp file first; Dump then
// link()s it to the final name and unlink()s the temp, so any reader
// either sees the complete file or nothing — never a partial write.
// rename() is deliberately not used: link+unlink is the source's own
// mechanism and survives the case where the destination directory is
// being watched for create events rather than renames.
func (w *Writer) Dump(groups []*catalog.Group) (string, error) {
	w.counter++

	payload, err := json.MarshalIndent(groups, "", "  ")
	if err != nil {
		return "", fmt.Errorf("persist: marshal dump: %w", err)
	}

	ts := time.Now().UTC().Format("Jan_02_15_04_05")
	tmpName := filepath.Join(w.dir, fmt.Sprintf(".%s.tmp.%d.%s", DumpPrefix, w.counter, uuid.NewString()))
	// The counter, not just the timestamp, makes the final name unique:
	// two dumps inside the same second must not collide on link().
	finalName := filepath.Join(w.dir, fmt.Sprintf("%s.%d.%s.%d", DumpPrefix, os.Getuid(), ts, w.counter))

	f, err := os.OpenFile(tmpName, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
	if err != nil {
		return "", fmt.Errorf("persist: create temp dump: %w", err)
	}
	if _, err := f.Write(payload); err != nil {
		f.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("persist: write temp dump: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("persist: sync temp dump: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("persist: close temp dump: %w", err)
	}

	if err := os.Link(tmpName, finalName); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("persist: link dump into place: %w", err)
	}
	if err := os.Remove(tmpName); err != nil {
		return "", fmt.Errorf("persist: unlink temp dump: %w", err)
	}

	return finalName, nil
}

// Load parses a dump file and appends a Group per array element,
// filling in defaults for the mandatory fields a naive element might
// omit (killsig=SIGTERM, instances=1, status=RUNNING). It does not
// insert into a catalog or spawn children; callers (server startup)
// add each group and spawn its instances themselves. No SPWN-time
// validation (such as the MaxInstances bound) is applied to loaded
// groups.
func Load(path string) ([]*catalog.Group, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("persist: read dump %s: %w", path, err)
	}

	var groups []*catalog.Group
	if err := json.Unmarshal(data, &groups); err != nil {
		return nil, fmt.Errorf("persist: parse dump %s: %w", path, err)
	}

	for _, g := range groups {
		if g.KillSig == 0 {
			g.KillSig = catalog.DefaultKillSig
		}
		if g.Instances == 0 {
			g.Instances = 1
		}
		if g.Status == 0 {
			g.Status = catalog.StatusRunning
		}
		g.Childs = make([]*catalog.Process, g.Instances)
	}
	return groups, nil
}

// LoadNewest scans dir for files beginning with DumpPrefix and loads
// the one with the greatest modification time, skipping any candidate
// whose name would not fit PATH_MAX. Files with equal modification
// times (two dumps inside the filesystem's timestamp granularity) are
// ordered by name, and the lexically greater name wins.
func LoadNewest(dir string) ([]*catalog.Group, string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, "", fmt.Errorf("persist: scan %s: %w", dir, err)
	}

	var newestName string
	var newestMod time.Time
	for _, e := range entries {
		name := e.Name()
		if len(name) > maxDumpName {
			continue
		}
		if len(name) < len(DumpPrefix) || name[:len(DumpPrefix)] != DumpPrefix {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if newestName == "" || mod.After(newestMod) || (mod.Equal(newestMod) && name > newestName) {
			newestName = name
			newestMod = info.ModTime()
		}
	}

	if newestName == "" {
		return nil, "", fmt.Errorf("persist: no %s* file found in %s", DumpPrefix, dir)
	}

	path := filepath.Join(dir, newestName)
	groups, err := Load(path)
	return groups, path, err
}
