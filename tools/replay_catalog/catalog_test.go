package replaycatalog

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"gunlayer/broker/internal/ballistics"
	"gunlayer/broker/internal/replay"
)

func writeBundle(t *testing.T, root, mount string, at time.Time) string {
	t.Helper()
	writer, _, err := replay.NewWriter(root, mount, func() time.Time { return at })
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	writer.SetHeader(replay.Header{
		MountID:    mount,
		Cannon:     "bronze",
		Projectile: "solid-shot",
		Ballistics: &ballistics.Params{MuzzleSpeed: 4.4, Gravity: -0.05},
		TickHz:     20,
	})
	if err := writer.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return writer.Directory()
}

func TestListOrdersBundlesByMount(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2024, time.March, 1, 12, 0, 0, 0, time.UTC)
	south := writeBundle(t, dir, "south", base)
	north := writeBundle(t, dir, "north", base.Add(time.Minute))

	entries, err := List(dir)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two entries, got %d", len(entries))
	}
	if entries[0].Bundle != north || entries[1].Bundle != south {
		t.Fatalf("unexpected order: %s, %s", entries[0].Bundle, entries[1].Bundle)
	}
	if entries[0].Header.Ballistics == nil || entries[0].Header.Ballistics.MuzzleSpeed != 4.4 {
		t.Fatalf("expected ballistics in header, got %+v", entries[0].Header)
	}
	if entries[0].CreatedAt == "" {
		t.Fatal("expected manifest timestamp")
	}

	payload, err := MarshalEntries(entries)
	if err != nil {
		t.Fatalf("MarshalEntries: %v", err)
	}
	if len(payload) == 0 {
		t.Fatalf("expected JSON payload to be non-empty")
	}
}

func TestListRejectsBrokenHeader(t *testing.T) {
	dir := t.TempDir()
	bundle := filepath.Join(dir, "broken")
	if err := os.MkdirAll(bundle, 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bundle, "header.json"), []byte(`{"schema_version":1}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := List(dir); err == nil {
		t.Fatal("expected an error for a header without a mount")
	}
}

func TestListRequiresDirectory(t *testing.T) {
	if _, err := List(""); err == nil {
		t.Fatal("expected error for empty root")
	}
}
