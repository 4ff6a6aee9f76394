package visage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/disintegration/imaging"
	"github.com/esimov/visage/utils"
	"golang.org/x/term"
)

// PipeName is the file name that indicates stdin/stdout is being used.
const PipeName = "-"

// Ops describes a single command line analysis.
type Ops struct {
	// Src is a file path, an image URL or PipeName for stdin.
	Src string
	// Dst receives the annotated image; PipeName writes it to stdout.
	Dst string
	// Foreground, when set, receives the background removed image as PNG.
	Foreground string
	// JSON, when set, receives the Summary of the result.
	JSON io.Writer
	// Status receives progress and status messages. Nil means stderr.
	Status io.Writer
	// Spinner shows a progress indicator on Status.
	Spinner bool
}

// Summary is the serializable part of a Result.
type Summary struct {
	FaceCount  int      `json:"face_count"`
	Faces      []Face   `json:"faces"`
	Notes      []string `json:"notes"`
	Foreground bool     `json:"foreground"`
	DurationMS int64    `json:"duration_ms"`
}

// Summary returns the face details and notes of the result.
func (r *Result) Summary() Summary {
	s := Summary{
		FaceCount:  r.FaceCount,
		Faces:      r.Faces,
		Notes:      make([]string, len(r.Notes)),
		Foreground: r.Foreground != nil,
		DurationMS: r.Duration.Milliseconds(),
	}
	if s.Faces == nil {
		s.Faces = []Face{}
	}
	for i, n := range r.Notes {
		s.Notes[i] = n.String()
	}
	return s
}

// Execute loads op.Src, runs the pipeline over it and writes the outputs
// op names, reporting progress on op.Status.
func (p *Pipeline) Execute(ctx context.Context, op *Ops) (*Result, error) {
	status := op.Status
	if status == nil {
		status = os.Stderr
	}
	now := time.Now()

	img, err := op.load(ctx)
	if err != nil {
		return nil, err
	}
	format, err := FormatFromPath(op.Dst)
	if err != nil {
		return nil, err
	}

	var spinner *utils.Spinner
	observe := func(State) {}
	if op.Spinner {
		spinner = utils.NewSpinnerTo(status, stageMessage(Idle), 80*time.Millisecond, true)
		observe = func(s State) { spinner.SetMessage(stageMessage(s)) }
		spinner.Start()
	}

	res, err := p.run(ctx, img, observe)
	if spinner != nil {
		if err != nil {
			spinner.StopMsg = fmt.Sprintf("%s %s %s\n",
				utils.DecorateText("⚡ VISAGE", utils.StatusMessage),
				utils.DecorateText("analysis failed...", utils.DefaultMessage),
				utils.DecorateText("✘", utils.ErrorMessage),
			)
		} else {
			spinner.StopMsg = fmt.Sprintf("%s %s %s\n",
				utils.DecorateText("⚡ VISAGE", utils.StatusMessage),
				utils.DecorateText("⇢", utils.DefaultMessage),
				utils.DecorateText(fmt.Sprintf("%d face(s) analyzed ✔", res.FaceCount), utils.SuccessMessage),
			)
		}
		spinner.Stop()
	}
	if err != nil {
		return nil, err
	}

	if err := writeOutput(op.Dst, func(w io.Writer) error {
		return EncodeImage(w, res.Annotated, format)
	}); err != nil {
		return nil, err
	}
	printSaved(status, op.Dst)

	if op.Foreground != "" && res.Foreground != nil {
		if err := writeOutput(op.Foreground, func(w io.Writer) error {
			return EncodeImage(w, res.Foreground, imaging.PNG)
		}); err != nil {
			return nil, err
		}
		printSaved(status, op.Foreground)
	}

	for _, n := range res.Notes {
		fmt.Fprintf(status, "%s %s\n", utils.DecorateText("!", utils.ErrorMessage), n)
	}
	if op.JSON != nil {
		enc := json.NewEncoder(op.JSON)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res.Summary()); err != nil {
			return nil, fmt.Errorf("unable to write the summary: %w", err)
		}
	}
	fmt.Fprintf(status, "\nExecution time: %s\n", utils.DecorateText(utils.FormatTime(time.Since(now)), utils.SuccessMessage))
	return res, nil
}

func stageMessage(s State) string {
	return fmt.Sprintf("%s %s",
		utils.DecorateText("⚡ VISAGE", utils.StatusMessage),
		utils.DecorateText(fmt.Sprintf("⇢ %s...", s), utils.DefaultMessage),
	)
}

// load decodes the source image, downloading it first when Src is a URL.
func (op *Ops) load(ctx context.Context) (*image.NRGBA, error) {
	switch {
	case utils.IsValidUrl(op.Src):
		f, err := utils.DownloadImage(ctx, op.Src)
		if err != nil {
			return nil, fmt.Errorf("failed to load the source image: %w", err)
		}
		defer os.Remove(f.Name())
		defer f.Close()
		return DecodeImage(f)
	case op.Src == PipeName:
		if term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, errors.New("`-` should be used with a pipe for stdin")
		}
		return DecodeImage(os.Stdin)
	default:
		return DecodeFile(op.Src)
	}
}

// writeOutput opens the destination, a file or stdout, and writes to it
// with encode. A file is removed again when encoding fails.
func writeOutput(path string, encode func(io.Writer) error) error {
	if path == PipeName {
		if term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("`-` should be used with a pipe for stdout")
		}
		return encode(os.Stdout)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("unable to create the destination file: %w", err)
	}
	if err := encode(f); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("unable to encode %s: %w", path, err)
	}
	return f.Close()
}

func printSaved(w io.Writer, path string) {
	if path == PipeName {
		return
	}
	fmt.Fprintf(w, "The image has been saved as: %s\n",
		utils.DecorateText(filepath.Base(path), utils.SuccessMessage),
	)
}
