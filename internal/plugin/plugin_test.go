package plugin_test

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"paratest/internal/hook"
	"paratest/internal/plugin"
)

func TestRegistry(t *testing.T) {
	r := plugin.NewRegistry()
	assert.Empty(t, r.Names())

	dummy := plugin.NewDummy()
	r.Register("dummy", dummy)
	r.Register("command", plugin.NewCommand(".", "", "", &hook.ShellRunner{}))

	assert.Equal(t, []string{"command", "dummy"}, r.Names())

	p, err := r.Get("dummy")
	require.NoError(t, err)
	assert.Same(t, dummy, p)

	_, err = r.Get("missing")
	assert.ErrorContains(t, err, `plugin "missing" is not registered`)
}

func TestDummy(t *testing.T) {
	var out bytes.Buffer
	d := &plugin.Dummy{Out: &out}

	tids, err := d.Discover(context.Background(), ".", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"foo", "bar", "bazz"}, tids)

	require.NoError(t, d.Execute(context.Background(), "0", "foo", t.TempDir(), t.TempDir()))
	assert.Equal(t, "Running test foo\n", out.String())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	slow := &plugin.Dummy{Delay: time.Hour, Out: &out}
	assert.ErrorIs(t, slow.Execute(ctx, "0", "bar", "", ""), context.Canceled)
}

func TestCommand_Discover(t *testing.T) {
	ctx := context.Background()
	runner := &hook.ShellRunner{}

	t.Run("one test per line", func(t *testing.T) {
		c := plugin.NewCommand(".", `printf 't1\n\n  t2 \nt1\n{pattern}\n'`, "", runner)
		tids, err := c.Discover(ctx, "/src", "t3")
		require.NoError(t, err)
		assert.Equal(t, []string{"t1", "t2", "t3"}, tids)
	})

	t.Run("source placeholder", func(t *testing.T) {
		src := t.TempDir()
		for _, name := range []string{"a.test", "b.test"} {
			require.NoError(t, os.WriteFile(filepath.Join(src, name), nil, 0o644))
		}
		c := plugin.NewCommand(src, "ls {source}", "", runner)
		tids, err := c.Discover(ctx, src, "")
		require.NoError(t, err)
		assert.Equal(t, []string{"a.test", "b.test"}, tids)
	})

	t.Run("failing discovery", func(t *testing.T) {
		c := plugin.NewCommand(".", "echo nope >&2; exit 2", "", runner)
		_, err := c.Discover(ctx, ".", "")
		assert.ErrorContains(t, err, "exited with status 2: nope")
	})

	t.Run("not configured", func(t *testing.T) {
		c := plugin.NewCommand(".", "", "", runner)
		_, err := c.Discover(ctx, ".", "")
		assert.Error(t, err)
	})
}

func TestCommand_Execute(t *testing.T) {
	ctx := context.Background()
	runner := &hook.ShellRunner{}
	workspace := t.TempDir()
	output := t.TempDir()

	c := plugin.NewCommand("/src", "", `echo {id} {test} {source} > {output}/{test}.out; test {test} != broken`, runner)

	require.NoError(t, c.Execute(ctx, "2", "ok-test", workspace, output))
	content, err := os.ReadFile(filepath.Join(output, "ok-test.out"))
	require.NoError(t, err)
	assert.Equal(t, "2 ok-test /src\n", string(content))

	err = c.Execute(ctx, "2", "broken", workspace, output)
	assert.ErrorContains(t, err, "test broken exited with status 1")
}

func TestGoTest(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping go toolchain integration test in short mode")
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go binary not available, skipping integration test")
	}

	src := t.TempDir()
	files := map[string]string{
		"go.mod": "module example.com/sample\n\ngo 1.21\n",
		"sample_test.go": `package sample

import "testing"

func TestPasses(t *testing.T) {}

func TestFails(t *testing.T) { t.Fatal("boom") }

func BenchmarkIgnored(b *testing.B) {}
`,
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(src, name), []byte(content), 0o644))
	}

	g := plugin.NewGoTest(goBin, src, time.Minute)
	ctx := context.Background()

	tids, err := g.Discover(ctx, src, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"example.com/sample TestPasses", "example.com/sample TestFails"}, tids)

	output := t.TempDir()
	assert.NoError(t, g.Execute(ctx, "0", "example.com/sample TestPasses", t.TempDir(), output))
	assert.FileExists(t, filepath.Join(output, "example.com_sample_TestPasses.log"))

	err = g.Execute(ctx, "0", "example.com/sample TestFails", t.TempDir(), output)
	assert.Error(t, err)

	assert.Error(t, g.Execute(ctx, "0", "no-package-separator", t.TempDir(), output))
}
