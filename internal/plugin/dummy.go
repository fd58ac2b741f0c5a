package plugin

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"
)

// Dummy always discovers the same three tests and pretends to run them. It is handy to try hooks
// and worker settings without a real test suite.
type Dummy struct {
	// Delay is how long every test "runs"
	Delay time.Duration
	Out   io.Writer
}

func NewDummy() *Dummy {
	return &Dummy{Delay: 100 * time.Millisecond, Out: os.Stdout}
}

func (d *Dummy) Discover(context.Context, string, string) ([]string, error) {
	return []string{"foo", "bar", "bazz"}, nil
}

func (d *Dummy) Execute(ctx context.Context, _, tid, _, _ string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d.Delay):
	}
	_, err := fmt.Fprintf(d.Out, "Running test %s\n", tid)
	return err
}
