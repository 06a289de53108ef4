package settings

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func TestDefaults(t *testing.T) {
	s := Default()
	if s.Alert.Backoff.Millis != 50 || s.Alert.Backoff.Count != 2 {
		t.Errorf("unexpected alert backoff defaults: %+v", s.Alert.Backoff)
	}
	if s.MoveAlerts.Backoff.Millis != 250 || s.MoveAlerts.Backoff.Count != 3 {
		t.Errorf("unexpected move backoff defaults: %+v", s.MoveAlerts.Backoff)
	}
	if !s.Alert.History.Enabled {
		t.Error("expected history enabled by default")
	}
	if len(s.Destination.AllowList) != len(DefaultAllowList) {
		t.Errorf("expected full allow list, got %v", s.Destination.AllowList)
	}
}

func TestLoadAndSnapshot(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	content := `
alert:
  backoff:
    millis: 100
    count: 4
  history:
    enabled: true
move_alerts:
  backoff:
    millis: 500
    count: 2
destination:
  allow_list: [slack]
  host_deny_list: [internal.example.com]
  sns:
    enabled: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvSNSAccessKey, "AKIATEST")
	t.Setenv(EnvSNSSecretKey, "secret")

	s, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	snap := s.Snapshot()

	if snap.AlertBackoff.Initial != 100*time.Millisecond || snap.AlertBackoff.Attempts != 4 {
		t.Errorf("unexpected alert policy: %+v", snap.AlertBackoff)
	}
	if snap.MoveAlertsBackoff.Delay(2) != time.Second {
		t.Errorf("expected exponential move policy doubling to 1s, got %v", snap.MoveAlertsBackoff.Delay(2))
	}
	if !snap.TypeAllowed("slack") || snap.TypeAllowed("sns") {
		t.Errorf("allow list not applied: %v", snap.AllowList)
	}
	if !snap.HostDenied("internal.example.com") || snap.HostDenied("example.com") {
		t.Errorf("deny list not applied: %v", snap.HostDenyList)
	}
	if !snap.AWS.StaticCredentials || snap.AWS.AccessKey != "AKIATEST" || snap.AWS.SecretKey != "secret" {
		t.Errorf("secure values not resolved: %+v", snap.AWS)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("alert:\n  backoff:\n    millis: 10\n    count: -1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	if !strings.Contains(err.Error(), "count must be at least 1") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestHolderSwapKeepsOldSnapshotForHolders(t *testing.T) {
	first := Default().Snapshot()
	h := NewHolder(first)

	inFlight := h.Current()

	updated := Default()
	updated.Alert.Backoff.Count = 9
	h.Replace(updated.Snapshot())

	if inFlight.AlertBackoff.Attempts != 2 {
		t.Errorf("in-flight snapshot changed: %+v", inFlight.AlertBackoff)
	}
	if h.Current().AlertBackoff.Attempts != 9 {
		t.Errorf("holder did not swap: %+v", h.Current().AlertBackoff)
	}
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	if err := os.WriteFile(path, []byte("alert:\n  backoff:\n    count: 2\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	holder := NewHolder(s.Snapshot())

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	w := NewWatcher(path, holder, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)

	if err := os.WriteFile(path, []byte("alert:\n  backoff:\n    count: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(3 * time.Second)
	for holder.Current().AlertBackoff.Attempts != 7 {
		select {
		case <-deadline:
			t.Fatalf("watcher never applied update, attempts=%d", holder.Current().AlertBackoff.Attempts)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// An invalid write keeps the last good snapshot.
	if err := os.WriteFile(path, []byte("alert:\n  backoff:\n    count: -3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	time.Sleep(200 * time.Millisecond)
	if got := holder.Current().AlertBackoff.Attempts; got != 7 {
		t.Errorf("invalid settings replaced snapshot, attempts=%d", got)
	}

	cancel()
	<-done
}
