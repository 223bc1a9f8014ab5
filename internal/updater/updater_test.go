package updater

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestNeedsUpdate(t *testing.T) {
	tests := []struct {
		name    string
		current string
		latest  string
		want    bool
	}{
		{"same version", "v0.3.19", "v0.3.19", false},
		{"patch update", "v0.3.19", "v0.3.20", true},
		{"minor update", "v0.3.19", "v0.4.0", true},
		{"major update", "v0.3.19", "v1.0.0", true},
		{"current is newer", "v0.4.0", "v0.3.19", false},
		{"without v prefix", "0.3.19", "0.3.20", true},
		{"mixed prefixes", "v0.3.19", "0.3.20", true},
		{"dev build wants update", "dev", "v0.3.20", true},
		{"dev to dev", "dev", "dev", false},
		{"multi-digit versions", "v0.3.9", "v0.3.10", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NeedsUpdate(tt.current, tt.latest); got != tt.want {
				t.Errorf("NeedsUpdate(%q, %q) = %v, want %v", tt.current, tt.latest, got, tt.want)
			}
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		input string
		want  [3]int
	}{
		{"0.3.19", [3]int{0, 3, 19}},
		{"1.0.0", [3]int{1, 0, 0}},
		{"10.20.30", [3]int{10, 20, 30}},
		{"invalid", [3]int{0, 0, 0}},
		{"1.2", [3]int{1, 2, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := parseVersion(tt.input); got != tt.want {
				t.Errorf("parseVersion(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func testUpdater(srv *httptest.Server) *Updater {
	return &Updater{
		apiURL:       srv.URL + "/latest",
		downloadBase: srv.URL + "/download",
		client:       &http.Client{Timeout: time.Second},
	}
}

func TestLatest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"tag_name": "v1.4.0"}`)
	}))
	defer srv.Close()

	tag, err := testUpdater(srv).Latest()
	if err != nil {
		t.Fatal(err)
	}
	if tag != "v1.4.0" {
		t.Errorf("Latest = %q, want v1.4.0", tag)
	}
}

func TestLatestNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := testUpdater(srv).Latest(); err == nil {
		t.Error("expected error for non-200 response")
	}
}

// archiveWith builds a tar.gz with the given files.
func archiveWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gzw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gzw)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o755, Size: int64(len(content)), Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gzw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestFetchBinary(t *testing.T) {
	archive := archiveWith(t, map[string]string{
		"README.md":                "docs",
		"dist/linux/" + binaryName: "#!/bin/true",
	})
	wantPath := fmt.Sprintf("/download/v1.4.0/%s_1.4.0_%s_%s.tar.gz", binaryName, runtime.GOOS, runtime.GOARCH)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != wantPath {
			t.Errorf("download path = %q, want %q", r.URL.Path, wantPath)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Write(archive)
	}))
	defer srv.Close()

	dir := t.TempDir()
	path, err := testUpdater(srv).fetchBinary("v1.4.0", dir)
	if err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "#!/bin/true" {
		t.Errorf("extracted content = %q", data)
	}
}

func TestFetchBinaryMissingFromArchive(t *testing.T) {
	archive := archiveWith(t, map[string]string{"README.md": "docs"})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer srv.Close()

	if _, err := testUpdater(srv).fetchBinary("v1.4.0", t.TempDir()); err == nil {
		t.Error("expected error when binary not in archive")
	}
}

func TestReplaceBinaryRollsBackOnFailure(t *testing.T) {
	dir := t.TempDir()
	current := filepath.Join(dir, binaryName)
	if err := os.WriteFile(current, []byte("old"), 0o755); err != nil {
		t.Fatal(err)
	}

	err := replaceBinary(current, filepath.Join(dir, "does-not-exist"))
	if err == nil {
		t.Fatal("expected error for missing replacement")
	}
	data, err := os.ReadFile(current)
	if err != nil {
		t.Fatalf("current binary gone after failed update: %v", err)
	}
	if string(data) != "old" {
		t.Errorf("current binary content = %q, want rollback to old", data)
	}
}
