package quickscan

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/anna-assistant/annad/internal/config"
)

func TestScanDisabledReturnsEmptyReport(t *testing.T) {
	s := NewScanner(config.QuickScan{Enable: false}, []string{"df"})
	report := s.Scan(context.Background(), time.Now())
	assert.Empty(t, report.Capabilities)
}

func TestScanReportsActiveAndDisabledCapabilities(t *testing.T) {
	s := NewScanner(config.QuickScan{Enable: true, TimeoutSecs: 5}, []string{"df", "smartctl"})
	s.lookupPath = func(name string) (string, error) {
		if name == "df" {
			return "/usr/bin/df", nil
		}
		return "", fmt.Errorf("not found")
	}

	report := s.Scan(context.Background(), time.Now())

	assert.Equal(t, CapabilityCheck{Name: "df", Status: StatusActive}, report.Capabilities[0])
	assert.Equal(t, StatusDisabled, report.Capabilities[1].Status)
	assert.NotEmpty(t, report.Capabilities[1].Reason)
}

func TestScanHonorsPerCheckDisable(t *testing.T) {
	s := NewScanner(config.QuickScan{Enable: true, TimeoutSecs: 5, Checks: map[string]bool{"df": false}}, []string{"df", "lsblk"})
	s.lookupPath = func(name string) (string, error) { return "/usr/bin/" + name, nil }

	report := s.Scan(context.Background(), time.Now())

	assert.Len(t, report.Capabilities, 1)
	assert.Equal(t, "lsblk", report.Capabilities[0].Name)
}

func TestScanOrphansParsesLines(t *testing.T) {
	s := NewScanner(config.QuickScan{Enable: true, TimeoutSecs: 5}, nil)
	s.runCommand = func(ctx context.Context, name string, args ...string) ([]byte, error) {
		return []byte("foo-lib\nbar-old\n"), nil
	}

	report := s.Scan(context.Background(), time.Now())

	assert.Equal(t, []string{"foo-lib", "bar-old"}, report.Orphans)
}
