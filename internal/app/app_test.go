package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"PMCMirror/internal/config"
	"PMCMirror/internal/domain"
)

func testConfig(t *testing.T, indexURL string) config.Config {
	t.Helper()

	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "oa_comm.filelist.csv")
	if err := os.WriteFile(manifestPath, []byte("File Path,Accession ID,Last Updated (UTC),PMID,License,Retracted\n"), 0o600); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	raw := fmt.Sprintf(`
storage:
  driver: memory
sources:
  s3:
    endpoint: http://127.0.0.1:1
    pathStyle: true
listings:
  - sourceSystem: oa_comm
    manifestPath: %s
    indexUrl: %s
`, manifestPath, indexURL)
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	return cfg
}

func TestApplicationRunsAndDiscovers(t *testing.T) {
	t.Parallel()

	index := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `<html><body><a href="oa_comm.filelist.csv">oa_comm.filelist.csv</a><a href="PMC1.tar.gz">PMC1</a></body></html>`)
	}))
	defer index.Close()

	ctx := context.Background()
	application, err := New(ctx, testConfig(t, index.URL+"/xml/"), slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer application.Close()

	report, err := application.Run(ctx)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Outcome != domain.RunSucceeded || report.FilesPlanned != 0 {
		t.Fatalf("unexpected report %+v", report)
	}

	found, err := application.Discover(ctx)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	entries := found["oa_comm"]
	if len(entries) != 1 || !strings.HasSuffix(entries[0].URL, "/xml/oa_comm.filelist.csv") {
		t.Fatalf("unexpected discovery %+v", found)
	}

	if err := application.ServeMetrics(ctx); err != nil {
		t.Fatalf("ServeMetrics without an address should be a no-op: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t, "")
	cfg.Storage.Driver = "sqlite"
	if _, err := New(context.Background(), cfg, slog.New(slog.DiscardHandler)); err == nil || !strings.Contains(err.Error(), "storage.driver") {
		t.Fatalf("expected a configuration error, got %v", err)
	}
}
