//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/windsync/wind/testutil"
)

var binaryPath string

func TestMain(m *testing.M) {
	tmpDir, err := os.MkdirTemp("", "wind-e2e-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		os.Exit(1)
	}

	binaryPath = filepath.Join(tmpDir, "wind")

	cmd := exec.Command("go", "build", "-o", binaryPath, ".")
	cmd.Dir = testutil.FindModuleRoot("..")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		os.RemoveAll(tmpDir)
		os.Exit(1)
	}

	code := m.Run()

	os.RemoveAll(tmpDir)
	os.Exit(code)
}

// sandbox is one isolated installation: its own HOME, config and state.
type sandbox struct {
	home     string
	config   string
	stateDir string
}

func newSandbox(t *testing.T) sandbox {
	t.Helper()

	root := t.TempDir()
	sb := sandbox{
		home:     filepath.Join(root, "home"),
		config:   filepath.Join(root, "config.toml"),
		stateDir: filepath.Join(root, "state"),
	}

	require.NoError(t, os.MkdirAll(sb.home, 0o755))
	require.NoError(t, os.WriteFile(sb.config, []byte(fmt.Sprintf(
		"log_format = \"json\"\nstate_dir = %q\ntemp_dir = %q\n\n[transfer]\nworkers = 4\nretry_base_delay = \"10ms\"\nretry_max_delay = \"50ms\"\n",
		sb.stateDir, filepath.Join(root, "tmp"))), 0o600))

	return sb
}

type result struct {
	stdout string
	stderr string
	code   int
}

func (sb sandbox) run(t *testing.T, args ...string) result {
	t.Helper()

	cmd := exec.Command(binaryPath, args...)
	cmd.Dir = sb.home
	cmd.Env = []string{
		"HOME=" + sb.home,
		"XDG_CONFIG_HOME=" + filepath.Join(sb.home, ".config"),
		"XDG_DATA_HOME=" + filepath.Join(sb.home, ".local", "share"),
		"WIND_CONFIG=" + sb.config,
		"PATH=" + os.Getenv("PATH"),
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	res := result{}

	err := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case errors.As(err, &exitErr):
		res.code = exitErr.ExitCode()
	case err != nil:
		t.Fatalf("running %v: %v", args, err)
	}

	res.stdout = stdout.String()
	res.stderr = stderr.String()

	return res
}

func (sb sandbox) mustRun(t *testing.T, args ...string) result {
	t.Helper()

	res := sb.run(t, args...)
	if res.code != 0 {
		t.Fatalf("wind %v exited %d\nstdout: %s\nstderr: %s", args, res.code, res.stdout, res.stderr)
	}

	return res
}

func decodeSummary(t *testing.T, out string) map[string]any {
	t.Helper()

	var sum map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &sum), "stdout: %s", out)

	return sum
}

func TestE2E_Version(t *testing.T) {
	sb := newSandbox(t)

	res := sb.mustRun(t, "--version")
	assert.Contains(t, res.stdout, "wind version")
}

func TestE2E_CopyThenRerunTransfersNothing(t *testing.T) {
	sb := newSandbox(t)
	src, dst := t.TempDir(), t.TempDir()

	files := map[string]string{
		"2024/01/beach.jpg":      "sand",
		"2024/02/snow.jpg":       "ice",
		"notes/trip notes.txt":   "remember sunscreen",
		"Ünïcödé/ファイル.txt":       "unicode",
		"deep/a/b/c/d/e/f/g.txt": "deep",
	}
	require.NoError(t, testutil.WriteTree(src, files))

	sum := decodeSummary(t, sb.mustRun(t, "--json", "transfer", src, "local:"+dst).stdout)
	assert.EqualValues(t, len(files), sum["verified"])
	assert.EqualValues(t, 0, sum["failed"])

	got, err := testutil.ReadTree(dst)
	require.NoError(t, err)
	assert.Equal(t, files, got, "destination mirrors the source with no temp files left behind")

	sum = decodeSummary(t, sb.mustRun(t, "--json", "transfer", src, dst).stdout)
	assert.EqualValues(t, 0, sum["transferred"])
	assert.EqualValues(t, len(files), sum["skipped"])
}

func TestE2E_MoveEmptiesSource(t *testing.T) {
	sb := newSandbox(t)
	src, dst := t.TempDir(), t.TempDir()

	require.NoError(t, testutil.WriteTree(src, map[string]string{"a.txt": "a", "sub/b.txt": "b"}))

	sum := decodeSummary(t, sb.mustRun(t, "--json", "transfer", "--move", src, dst).stdout)
	assert.EqualValues(t, 2, sum["sources_deleted"])

	left, err := testutil.ReadTree(src)
	require.NoError(t, err)
	assert.Empty(t, left)
}

func TestE2E_FailureExitsNonZeroAndKeepsSource(t *testing.T) {
	sb := newSandbox(t)
	src, dst := t.TempDir(), t.TempDir()

	require.NoError(t, testutil.WriteTree(src, map[string]string{"a/b.txt": "payload", "ok.txt": "fine"}))
	// A file where the destination needs a directory makes the upload fail.
	require.NoError(t, testutil.WriteTree(dst, map[string]string{"a": "not a directory"}))

	res := sb.run(t, "--json", "transfer", "--move", src, dst)
	assert.Equal(t, 1, res.code)

	sum := decodeSummary(t, res.stdout)
	assert.EqualValues(t, 1, sum["failed"])
	assert.EqualValues(t, 1, sum["verified"])

	assert.FileExists(t, filepath.Join(src, "a", "b.txt"), "failed move keeps the source")
	assert.NoFileExists(t, filepath.Join(src, "ok.txt"))
}

func TestE2E_HistoryListsRuns(t *testing.T) {
	sb := newSandbox(t)
	src, dst := t.TempDir(), t.TempDir()

	require.NoError(t, testutil.WriteTree(src, map[string]string{"x.txt": "x"}))

	sum := decodeSummary(t, sb.mustRun(t, "--json", "transfer", src, dst).stdout)
	runID, _ := sum["run_id"].(string)
	require.NotEmpty(t, runID)

	res := sb.mustRun(t, "history")
	assert.Contains(t, res.stdout, runID[:8])

	res = sb.mustRun(t, "history", "show", runID)
	assert.Contains(t, res.stdout, "verified")

	res = sb.run(t, "history", "show", "does-not-exist")
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "not found")
}

func TestE2E_PhotosWithoutTokenFails(t *testing.T) {
	sb := newSandbox(t)

	res := sb.run(t, "photos", t.TempDir())
	assert.Equal(t, 1, res.code)
	assert.Contains(t, res.stderr, "no saved token")
}
