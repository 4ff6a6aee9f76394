// Package remover provides background removers for the visage pipeline:
// the rembg command line tool, a rembg HTTP server and a built-in luma key.
package remover

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"io"
	"os/exec"
	"strings"

	"github.com/esimov/visage"
)

// Runner runs the named command with stdin and returns its standard output.
type Runner func(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error)

// DefaultModel is the rembg segmentation model used when none is configured.
const DefaultModel = "u2net"

// CLI removes backgrounds by piping PNG images through the rembg executable.
// The session resolves the executable once; it is missing when rembg is not
// installed, which makes the capability unavailable.
type CLI struct {
	// Binary is the executable name or path. Defaults to "rembg".
	Binary string
	// Model is the rembg model. Defaults to DefaultModel.
	Model string
	// LookPath and Run default to exec.LookPath and ExecRunner.
	LookPath func(file string) (string, error)
	Run      Runner
}

var (
	_ visage.Remover         = (*CLI)(nil)
	_ visage.ConcurrencySafe = (*CLI)(nil)
)

type cliSession struct {
	path  string
	model string
}

func (cliSession) Close() error { return nil }

// Name identifies the remover in logs.
func (c *CLI) Name() string { return "rembg" }

// ConcurrencySafe reports true: every call spawns its own process.
func (c *CLI) ConcurrencySafe() bool { return true }

// NewSession resolves the rembg executable.
func (c *CLI) NewSession(ctx context.Context) (visage.Session, error) {
	bin := c.Binary
	if bin == "" {
		bin = "rembg"
	}
	lookPath := c.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(bin)
	if err != nil {
		return nil, fmt.Errorf("%w: %s not found: %v", visage.ErrRemoverUnavailable, bin, err)
	}
	model := c.Model
	if model == "" {
		model = DefaultModel
	}
	return cliSession{path: path, model: model}, nil
}

// Remove runs "rembg i -m <model> - -" with img on stdin.
func (c *CLI) Remove(ctx context.Context, img image.Image, s visage.Session) (image.Image, error) {
	sess, ok := s.(cliSession)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected session %T", visage.ErrRemovalFailed, s)
	}
	var in bytes.Buffer
	if err := png.Encode(&in, img); err != nil {
		return nil, fmt.Errorf("%w: encoding input: %v", visage.ErrRemovalFailed, err)
	}

	run := c.Run
	if run == nil {
		run = ExecRunner
	}
	out, err := run(ctx, &in, sess.path, "i", "-m", sess.model, "-", "-")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", visage.ErrRemovalFailed, err)
	}
	fg, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("%w: decoding rembg output: %v", visage.ErrRemovalFailed, err)
	}
	return fg, nil
}

// ExecRunner runs the command with exec.CommandContext. The error carries
// the command's standard error.
func ExecRunner(ctx context.Context, stdin io.Reader, name string, args ...string) ([]byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = stdin
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("%s exited with code %d: %s", name, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return nil, err
	}
	return stdout.Bytes(), nil
}
