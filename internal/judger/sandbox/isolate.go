package sandbox

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	appErr "gavel/pkg/errors"
)

const defaultBoxes = 8

// IsolateRunner executes programs inside isolate boxes. Each run claims a
// box id from a fixed pool, initializes the box, copies the work directory
// in, runs under limits, and tears the box down again.
type IsolateRunner struct {
	path  string
	boxes chan int
}

// NewIsolateRunner checks the isolate binary works and builds the box pool.
func NewIsolateRunner(path string, boxCount int) (*IsolateRunner, error) {
	if path == "" {
		path = "isolate"
	}
	if boxCount <= 0 {
		boxCount = defaultBoxes
	}
	if err := exec.Command(path, "--version").Run(); err != nil {
		return nil, appErr.Wrapf(err, appErr.SandboxUnavailable, "check %s", path)
	}
	boxes := make(chan int, boxCount)
	for i := 0; i < boxCount; i++ {
		boxes <- i
	}
	return &IsolateRunner{path: path, boxes: boxes}, nil
}

func (r *IsolateRunner) Name() string { return "isolate" }

// Run executes one command in a fresh box.
func (r *IsolateRunner) Run(ctx context.Context, cmd Command) (Result, error) {
	if len(cmd.Args) == 0 {
		return Result{}, appErr.ValidationError("args", "required")
	}

	var boxID int
	select {
	case boxID = <-r.boxes:
	case <-ctx.Done():
		return Result{}, appErr.Wrap(ctx.Err(), appErr.SandboxUnavailable)
	}
	defer func() { r.boxes <- boxID }()

	boxDir, err := r.initBox(ctx, boxID)
	if err != nil {
		return Result{}, err
	}
	defer r.cleanupBox(boxID)

	if err := copyDir(cmd.Dir, boxDir); err != nil {
		return Result{}, appErr.Wrapf(err, appErr.SandboxSetupFailed, "populate box %d", boxID)
	}

	metaPath := filepath.Join(os.TempDir(), fmt.Sprintf("isolate-meta-%d", boxID))
	defer os.Remove(metaPath)

	args := r.buildArgs(boxID, metaPath, cmd)
	run := exec.CommandContext(ctx, r.path, args...)

	stdoutCap := cmd.StdoutLimit
	if stdoutCap <= 0 {
		stdoutCap = defaultCaptureLimit
	}
	stderrCap := cmd.StderrLimit
	if stderrCap <= 0 {
		stderrCap = defaultCaptureLimit
	}

	// Program stdout/stderr go to files inside the box; isolate's own
	// stderr carries diagnostics only.
	diag := newCappedBuffer(stderrCap)
	run.Stderr = diag
	runErr := run.Run()

	meta, metaErr := parseMetaFile(metaPath)
	if metaErr != nil && runErr != nil {
		return Result{}, appErr.Wrapf(runErr, appErr.SandboxSetupFailed, "isolate run in box %d", boxID)
	}

	res := metaToResult(meta)
	res.Stdout, res.Truncated = readCapped(filepath.Join(boxDir, boxStdoutName), stdoutCap)
	res.Stderr, _ = readCapped(filepath.Join(boxDir, boxStderrName), stderrCap)

	// Files the program wrote (a compiled binary, checker output) must land
	// back in the work dir; later pipeline steps run from there.
	if err := collectBox(boxDir, cmd.Dir); err != nil {
		return res, appErr.Wrapf(err, appErr.SandboxSetupFailed, "collect box %d", boxID)
	}

	if cmd.StdoutPath != "" {
		if err := copyFile(filepath.Join(boxDir, boxStdoutName), cmd.StdoutPath); err != nil {
			return res, appErr.Wrapf(err, appErr.SandboxSetupFailed, "collect stdout from box %d", boxID)
		}
	}
	return res, nil
}

const (
	boxStdoutName = ".stdout"
	boxStderrName = ".stderr"
)

func (r *IsolateRunner) buildArgs(boxID int, metaPath string, cmd Command) []string {
	args := []string{
		"--box-id=" + strconv.Itoa(boxID),
		"--meta=" + metaPath,
		"--silent",
		"--stdout=" + boxStdoutName,
		"--stderr=" + boxStderrName,
	}
	if cmd.StdinPath != "" {
		// Stdin was copied into the box with the rest of the work dir.
		args = append(args, "--stdin="+filepath.Base(cmd.StdinPath))
	}
	if cmd.CPUTimeMS > 0 {
		args = append(args, fmt.Sprintf("--time=%.3f", float64(cmd.CPUTimeMS)/1000))
	}
	if cmd.WallTimeMS > 0 {
		args = append(args, fmt.Sprintf("--wall-time=%.3f", float64(cmd.WallTimeMS)/1000))
	}
	if cmd.MemoryKB > 0 {
		args = append(args, "--mem="+strconv.FormatInt(cmd.MemoryKB, 10))
	}
	if cmd.StdoutLimit > 0 {
		args = append(args, "--fsize="+strconv.FormatInt((cmd.StdoutLimit+1023)/1024, 10))
	}
	args = append(args, "--processes=64")
	for _, env := range cmd.Env {
		args = append(args, "--env="+env)
	}
	args = append(args, "--run", "--")
	for i, arg := range cmd.Args {
		rel := boxRelative(arg, cmd.Dir)
		if i == 0 && rel != arg && !strings.Contains(rel, "/") {
			// The program itself came from the work dir; without a slash
			// isolate would resolve it against PATH instead of the box.
			rel = "./" + rel
		}
		args = append(args, rel)
	}
	return args
}

// boxRelative rewrites a host work-dir path into a box-relative one. The
// work dir's contents sit at the box root, which is the program's working
// directory, so inside the box the bare name is the right path. Paths
// outside the work dir (compilers, system binaries) pass through untouched.
func boxRelative(arg, workDir string) string {
	if workDir == "" || arg == "" {
		return arg
	}
	if arg == workDir {
		return "."
	}
	if rest, ok := strings.CutPrefix(arg, workDir+string(filepath.Separator)); ok {
		return rest
	}
	return arg
}

// collectBox copies the box contents back into the work dir so artifacts
// the program produced survive box cleanup. The capture files stay behind.
func collectBox(boxDir, workDir string) error {
	if workDir == "" {
		return nil
	}
	entries, err := os.ReadDir(boxDir)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == boxStdoutName || entry.Name() == boxStderrName {
			continue
		}
		src := filepath.Join(boxDir, entry.Name())
		dst := filepath.Join(workDir, entry.Name())
		if err := copyFile(src, dst); err != nil {
			return err
		}
		if info, err := entry.Info(); err == nil {
			_ = os.Chmod(dst, info.Mode().Perm())
		}
	}
	return nil
}

func (r *IsolateRunner) initBox(ctx context.Context, boxID int) (string, error) {
	out, err := exec.CommandContext(ctx, r.path, "--box-id="+strconv.Itoa(boxID), "--init").Output()
	if err != nil {
		return "", appErr.Wrapf(err, appErr.SandboxSetupFailed, "init box %d", boxID)
	}
	// init prints the box root; the writable directory is its box/ child.
	root := strings.TrimSpace(string(out))
	if root == "" {
		return "", appErr.Newf(appErr.SandboxSetupFailed, "init box %d returned no path", boxID)
	}
	return filepath.Join(root, "box"), nil
}

func (r *IsolateRunner) cleanupBox(boxID int) {
	_ = exec.Command(r.path, "--box-id="+strconv.Itoa(boxID), "--cleanup").Run()
}

// parseMetaFile reads isolate's key:value meta file.
func parseMetaFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	meta := make(map[string]string)
	for _, line := range strings.Split(string(data), "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		meta[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}
	return meta, nil
}

func metaToResult(meta map[string]string) Result {
	var res Result
	if v, ok := meta["time"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			res.TimeMS = int64(f * 1000)
		}
	}
	if v, ok := meta["time-wall"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			res.WallMS = int64(f * 1000)
		}
	}
	if v, ok := meta["max-rss"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			res.MemoryKB = n
		}
	}
	if v, ok := meta["exitcode"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			res.ExitCode = n
		}
	}
	switch meta["status"] {
	case "TO":
		res.TimedOut = true
		if strings.Contains(meta["message"], "wall") {
			res.WallTimedOut = true
		}
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	case "SG":
		if meta["exitsig"] == "9" {
			// isolate kills with SIGKILL on memory limit under cgroups;
			// without them the runtime reports it as a signal too.
			res.OOMKilled = true
		}
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	case "RE", "XX":
		if res.ExitCode == 0 {
			res.ExitCode = -1
		}
	}
	return res
}

func readCapped(path string, limit int64) ([]byte, bool) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return data, false
	}
	extra := make([]byte, 1)
	n, _ := f.Read(extra)
	return data, n > 0
}

func copyDir(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := copyFile(filepath.Join(src, entry.Name()), filepath.Join(dst, entry.Name())); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
