// Package pacman parses the pacman package manager's log file into
// structured package-change events (spec §6.4), tracking a byte-offset
// checkpoint so repeated scans only read newly appended lines.
package pacman

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/anna-assistant/annad/internal/evidence"
)

// logLinePattern matches "[<RFC3339 ts>] [ALPM] <action> <pkg> (<version>)"
// and, for upgraded lines, "(<old> -> <new>)" (§6.4).
var logLinePattern = regexp.MustCompile(
	`^\[([^\]]+)\]\s+\[ALPM\]\s+(installed|upgraded|removed|reinstalled)\s+(\S+)\s+\(([^)]+)\)\s*$`,
)

// knownActions is the closed set §6.4 recognizes; any other ALPM action
// verb ("configured", "warning", ...) is skipped.
var knownActions = map[string]bool{
	"installed":   true,
	"upgraded":    true,
	"removed":     true,
	"reinstalled": true,
}

// ParseLine parses one pacman.log line into a PackageChange. ok is false
// for lines that don't match the ALPM action-line shape or whose action
// is not one of the known four (§6.4 "unknown actions are skipped").
func ParseLine(line string) (evidence.PackageChange, bool) {
	m := logLinePattern.FindStringSubmatch(line)
	if m == nil {
		return evidence.PackageChange{}, false
	}
	action := m[2]
	if !knownActions[action] {
		return evidence.PackageChange{}, false
	}

	ts, err := time.Parse(time.RFC3339, m[1])
	if err != nil {
		return evidence.PackageChange{}, false
	}

	change := evidence.PackageChange{
		Package: m[3],
		Action:  action,
		When:    ts,
	}

	versionField := m[4]
	if action == "upgraded" {
		old, new, ok := splitUpgradeVersions(versionField)
		if ok {
			change.OldVer = old
			change.NewVer = new
			return change, true
		}
	}
	change.NewVer = versionField
	return change, true
}

func splitUpgradeVersions(field string) (old, new string, ok bool) {
	const sep = " -> "
	for i := 0; i+len(sep) <= len(field); i++ {
		if field[i:i+len(sep)] == sep {
			return field[:i], field[i+len(sep):], true
		}
	}
	return "", "", false
}

// Checkpoint is the persisted byte offset into the log file (§6.2
// telemetry/pacman.json).
type Checkpoint struct {
	Offset int64 `json:"offset"`
}

// LoadCheckpoint reads path, returning a zero Checkpoint if it doesn't
// exist yet.
func LoadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Checkpoint{}, nil
	}
	if err != nil {
		return Checkpoint{}, fmt.Errorf("pacman: read checkpoint %s: %w", path, err)
	}
	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("pacman: parse checkpoint %s: %w", path, err)
	}
	return cp, nil
}

// SaveCheckpoint atomically persists cp to path (write-tmp, fsync, rename
// per §6.2).
func SaveCheckpoint(path string, cp Checkpoint) error {
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("pacman: marshal checkpoint: %w", err)
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("pacman: open %s: %w", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("pacman: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("pacman: fsync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("pacman: close %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// ScanNew reads logPath from cp.Offset to EOF, returning every recognized
// PackageChange and the checkpoint to persist for the next scan.
func ScanNew(logPath string, cp Checkpoint) ([]evidence.PackageChange, Checkpoint, error) {
	f, err := os.Open(logPath)
	if os.IsNotExist(err) {
		return nil, cp, nil
	}
	if err != nil {
		return nil, cp, fmt.Errorf("pacman: open %s: %w", logPath, err)
	}
	defer f.Close()

	if _, err := f.Seek(cp.Offset, io.SeekStart); err != nil {
		return nil, cp, fmt.Errorf("pacman: seek %s to %d: %w", logPath, cp.Offset, err)
	}

	var changes []evidence.PackageChange
	offset := cp.Offset
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(line)) + 1 // scanner strips the trailing newline
		if change, ok := ParseLine(line); ok {
			changes = append(changes, change)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, cp, fmt.Errorf("pacman: scan %s: %w", logPath, err)
	}

	return changes, Checkpoint{Offset: offset}, nil
}
