// Package updater replaces the running binary with the latest GitHub
// release.
package updater

import (
	"archive/tar"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

const (
	githubRepo = "hochfrequenz/phase-orchestrator"
	binaryName = "phase-orch"
)

// Updater resolves and installs releases. Endpoints are fields so tests
// can point it at a local server.
type Updater struct {
	apiURL       string
	downloadBase string
	client       *http.Client
}

// New creates an Updater against the project's GitHub releases.
func New() *Updater {
	return &Updater{
		apiURL:       "https://api.github.com/repos/" + githubRepo + "/releases/latest",
		downloadBase: "https://github.com/" + githubRepo + "/releases/download",
		client:       &http.Client{Timeout: 5 * time.Minute},
	}
}

// Latest returns the tag of the newest published release.
func (u *Updater) Latest() (string, error) {
	resp, err := u.client.Get(u.apiURL)
	if err != nil {
		return "", fmt.Errorf("updater: checking latest release: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("updater: release lookup returned status %d", resp.StatusCode)
	}

	var rel struct {
		TagName string `json:"tag_name"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return "", fmt.Errorf("updater: parsing release info: %w", err)
	}
	return rel.TagName, nil
}

// NeedsUpdate reports whether latest is newer than current. Versions
// are "vX.Y.Z" or "X.Y.Z"; a "dev" build always wants the update.
func NeedsUpdate(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")

	if current == "dev" {
		return latest != "dev"
	}

	cur := parseVersion(current)
	lat := parseVersion(latest)
	for i := 0; i < 3; i++ {
		if lat[i] != cur[i] {
			return lat[i] > cur[i]
		}
	}
	return false
}

func parseVersion(v string) [3]int {
	var parts [3]int
	fmt.Sscanf(v, "%d.%d.%d", &parts[0], &parts[1], &parts[2])
	return parts
}

// Apply downloads the release archive for targetVersion and swaps the
// running binary for the one inside it.
func (u *Updater) Apply(targetVersion string) error {
	tmpDir, err := os.MkdirTemp("", "phase-orch-update-*")
	if err != nil {
		return fmt.Errorf("updater: temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	fetched, err := u.fetchBinary(targetVersion, tmpDir)
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("updater: locating executable: %w", err)
	}
	exe, err = filepath.EvalSymlinks(exe)
	if err != nil {
		return fmt.Errorf("updater: resolving executable path: %w", err)
	}

	if err := replaceBinary(exe, fetched); err != nil {
		return fmt.Errorf("updater: installing new binary: %w", err)
	}
	return nil
}

// fetchBinary downloads the versioned archive into destDir and returns
// the path of the extracted binary.
// Archive layout: phase-orch_1.2.3_linux_amd64.tar.gz
func (u *Updater) fetchBinary(targetVersion, destDir string) (string, error) {
	archiveName := fmt.Sprintf("%s_%s_%s_%s.tar.gz",
		binaryName, strings.TrimPrefix(targetVersion, "v"), runtime.GOOS, runtime.GOARCH)
	url := fmt.Sprintf("%s/%s/%s", u.downloadBase, targetVersion, archiveName)

	resp, err := u.client.Get(url)
	if err != nil {
		return "", fmt.Errorf("updater: downloading %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("updater: download of %s returned status %d", archiveName, resp.StatusCode)
	}

	path, err := extractBinary(resp.Body, destDir)
	if err != nil {
		return "", fmt.Errorf("updater: extracting %s: %w", archiveName, err)
	}
	return path, nil
}

// extractBinary streams a tar.gz archive and writes the release binary
// into destDir. The binary may sit at the archive root or nested.
func extractBinary(archive io.Reader, destDir string) (string, error) {
	gzr, err := gzip.NewReader(archive)
	if err != nil {
		return "", err
	}
	defer gzr.Close()

	tr := tar.NewReader(gzr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return "", fmt.Errorf("binary %s not found in archive", binaryName)
		}
		if err != nil {
			return "", err
		}
		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != binaryName {
			continue
		}

		dest := filepath.Join(destDir, binaryName)
		out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return "", err
		}
		return dest, out.Close()
	}
}

// replaceBinary swaps currentPath for newPath, keeping a backup until
// the copy lands. Copy instead of rename because the temp dir may live
// on another filesystem.
func replaceBinary(currentPath, newPath string) error {
	info, err := os.Stat(currentPath)
	if err != nil {
		return err
	}

	backup := currentPath + ".old"
	os.Remove(backup)
	if err := os.Rename(currentPath, backup); err != nil {
		return fmt.Errorf("backing up current binary: %w", err)
	}
	if err := copyFile(newPath, currentPath, info.Mode()); err != nil {
		os.Rename(backup, currentPath)
		return err
	}
	os.Remove(backup)
	return nil
}

func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
