package hook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"

	"al.essio.dev/pkg/shellescape"
	"github.com/rs/zerolog/log"
)

// Placeholders understood in hook templates
const (
	VarPath      = "path"
	VarID        = "id"
	VarWorkspace = "workspace"
	VarSource    = "source"
	VarOutput    = "output"
)

const (
	ExitCodeCancelled int = 990
	ExitCodeUnknown   int = 999
)

// ErrFailed is wrapped by every error returned for a hook that exited non-zero.
var ErrFailed = errors.New("hook failed")

// Set holds the hook templates of the six lifecycle points. An empty template disables the hook.
type Set struct {
	Setup             string
	Teardown          string
	SetupWorkspace    string
	TeardownWorkspace string
	SetupTest         string
	TeardownTest      string
}

// Vars maps placeholder names to their values
type Vars map[string]string

type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Runner executes a hook template. Implementations must treat an empty template as a successful
// no-op.
type Runner interface {
	Run(ctx context.Context, template string, vars Vars) (Result, error)
}

var placeholder = regexp.MustCompile(`\{([a-zA-Z_][a-zA-Z0-9_]*)\}`)

// Expand replaces every {name} in template with the shell quoted value of vars[name]. Unknown
// placeholders are left as they are.
func Expand(template string, vars Vars) string {
	return placeholder.ReplaceAllStringFunc(template, func(m string) string {
		value, ok := vars[m[1:len(m)-1]]
		if !ok {
			return m
		}
		return shellescape.Quote(value)
	})
}

// ShellRunner runs hooks through `sh -c`.
type ShellRunner struct {
	// Shell defaults to "sh"
	Shell string
	// Dir is the working directory of the hook, the current one when empty
	Dir string
}

// Compile-time interface satisfaction check.
var _ Runner = (*ShellRunner)(nil)

func (r *ShellRunner) Run(ctx context.Context, template string, vars Vars) (Result, error) {
	if template == "" {
		return Result{}, nil
	}

	shell := r.Shell
	if shell == "" {
		shell = "sh"
	}

	command := Expand(template, vars)
	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = r.Dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("command", command).Msg("Running hook")

	res := Result{}
	err := cmd.Run()
	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	if err != nil {
		var exitError *exec.ExitError
		switch {
		case errors.As(err, &exitError) && exitError.ExitCode() >= 0:
			res.ExitCode = exitError.ExitCode()
			err = nil
		case ctx.Err() != nil:
			res.ExitCode = ExitCodeCancelled
			err = fmt.Errorf("hook was cancelled: %w", ctx.Err())
		default:
			res.ExitCode = ExitCodeUnknown
		}
	}

	event := log.Debug()
	if res.ExitCode != 0 {
		event = log.Warn()
	}
	event.
		Str("command", command).
		Int("exit_code", res.ExitCode).
		Str("stdout", res.Stdout).
		Str("stderr", res.Stderr).
		Msg("Hook finished")

	return res, err
}

// Check runs the named hook and turns a non-zero exit into an error wrapping ErrFailed.
func Check(ctx context.Context, r Runner, name, template string, vars Vars) error {
	res, err := r.Run(ctx, template, vars)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrFailed, name, err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("%w: %s exited with status %d", ErrFailed, name, res.ExitCode)
	}
	return nil
}
