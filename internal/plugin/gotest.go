package plugin

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultGoBinary   = "go"
	DefaultGoPackages = "./..."

	listTimeout = 2 * time.Minute
)

// GoTest runs the top level tests of a Go module one `go test -run` invocation at a time. The
// discovery pattern is a package pattern such as ./pkg/...; test ids are "<package> <TestName>".
type GoTest struct {
	Binary  string
	Source  string
	Timeout time.Duration
}

func NewGoTest(binary, source string, timeout time.Duration) *GoTest {
	if binary == "" {
		binary = DefaultGoBinary
	}
	return &GoTest{Binary: binary, Source: source, Timeout: timeout}
}

func (g *GoTest) Discover(ctx context.Context, source, pattern string) ([]string, error) {
	if pattern == "" {
		pattern = DefaultGoPackages
	}

	packages, err := g.goOutput(ctx, source, "list", pattern)
	if err != nil {
		return nil, fmt.Errorf("list packages: %w", err)
	}

	var tids []string
	for _, pkg := range nonEmptyLines(packages) {
		names, err := g.listTests(ctx, source, pkg)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			tids = append(tids, pkg+" "+name)
		}
	}
	return tids, nil
}

func (g *GoTest) listTests(ctx context.Context, source, pkg string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, listTimeout)
	defer cancel()

	out, err := g.goOutput(ctx, source, "test", pkg, "-list", "^Test")
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("listing tests of %s timed out after %s", pkg, listTimeout)
		}
		return nil, fmt.Errorf("list tests of %s: %w", pkg, err)
	}
	return parseTestList(out), nil
}

func (g *GoTest) Execute(ctx context.Context, workerID, tid, workspace, output string) error {
	pkg, name, ok := strings.Cut(tid, " ")
	if !ok {
		return fmt.Errorf("malformed go test id %q", tid)
	}

	args := []string{"test", pkg, "-count", "1", "-v", "-run", "^" + regexp.QuoteMeta(name) + "$"}
	if g.Timeout > 0 {
		args = append(args, "-timeout", g.Timeout.String())
	}

	if err := os.MkdirAll(output, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	logPath := filepath.Join(output, logFileName(tid))
	logFile, err := os.Create(logPath)
	if err != nil {
		return fmt.Errorf("create test log: %w", err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			log.Error().Err(err).Str("path", logPath).Msg("Could not close test log")
		}
	}()

	cmd := exec.CommandContext(ctx, g.Binary, args...)
	cmd.Dir = g.Source
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	// let the test know which worker and workspace it runs in
	cmd.Env = append(os.Environ(), "PARATEST_WORKER="+workerID, "PARATEST_WORKSPACE="+workspace)

	log.Debug().Str("worker_id", workerID).Str("command", cmd.String()).Msg("Running go test")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s failed, see %s: %w", tid, logPath, err)
	}
	return nil
}

func (g *GoTest) goOutput(ctx context.Context, dir string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, g.Binary, args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("command error: %w\nstderr: %s", err, stderr.String())
	}
	return stdout.Bytes(), nil
}

// parseTestList extracts valid test names from go test -list output
func parseTestList(output []byte) []string {
	var names []string
	for _, line := range nonEmptyLines(output) {
		if line == "ok" || strings.HasPrefix(line, "ok ") || strings.HasPrefix(line, "?") {
			continue
		}
		names = append(names, line)
	}
	return names
}

func nonEmptyLines(output []byte) []string {
	var lines []string
	for _, line := range bytes.Split(output, []byte("\n")) {
		if s := string(bytes.TrimSpace(line)); s != "" {
			lines = append(lines, s)
		}
	}
	return lines
}

var unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

func logFileName(tid string) string {
	return unsafeFileChars.ReplaceAllString(tid, "_") + ".log"
}
