package plugin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"paratest/internal/hook"
)

// Placeholders available to the command plugin templates, on top of the hook ones
const (
	VarTest    = "test"
	VarPattern = "pattern"
)

// Command discovers tests by running a template that prints one test id per line and executes each
// test with a second template. Templates use the same {placeholder} syntax as hooks.
type Command struct {
	// Source fills the {source} placeholder of the execute template
	Source           string
	DiscoverTemplate string
	ExecuteTemplate  string
	Runner           hook.Runner
}

func NewCommand(source, discover, execute string, runner hook.Runner) *Command {
	return &Command{Source: source, DiscoverTemplate: discover, ExecuteTemplate: execute, Runner: runner}
}

func (c *Command) Discover(ctx context.Context, source, pattern string) ([]string, error) {
	if c.DiscoverTemplate == "" {
		return nil, errors.New("command plugin has no discover template configured")
	}

	res, err := c.Runner.Run(ctx, c.DiscoverTemplate, hook.Vars{
		hook.VarPath:   source,
		hook.VarSource: source,
		VarPattern:     pattern,
	})
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("discover command exited with status %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var tids []string
	seen := make(map[string]struct{})
	scanner := bufio.NewScanner(strings.NewReader(res.Stdout))
	for scanner.Scan() {
		tid := strings.TrimSpace(scanner.Text())
		if tid == "" {
			continue
		}
		if _, ok := seen[tid]; ok {
			continue
		}
		seen[tid] = struct{}{}
		tids = append(tids, tid)
	}
	return tids, scanner.Err()
}

func (c *Command) Execute(ctx context.Context, workerID, tid, workspace, output string) error {
	if c.ExecuteTemplate == "" {
		return errors.New("command plugin has no execute template configured")
	}

	res, err := c.Runner.Run(ctx, c.ExecuteTemplate, hook.Vars{
		hook.VarID:        workerID,
		hook.VarPath:      workspace,
		hook.VarWorkspace: workspace,
		hook.VarOutput:    output,
		hook.VarSource:    c.Source,
		VarTest:           tid,
	})
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("test %s exited with status %d", tid, res.ExitCode)
	}
	return nil
}
