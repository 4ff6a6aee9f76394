package main

import (
	"errors"
	"os"

	"github.com/esimov/visage"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

type analyzeFlags struct {
	input      string
	output     string
	foreground string
	json       bool
}

func newAnalyzeCmd(a *app) *cobra.Command {
	var f analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze",
		Short: "Detect and annotate the faces of an image",
		Example: `  visage analyze -i portrait.jpg -o annotated.jpg --foreground subject.png
  curl -s https://example.com/group.png | visage analyze -i - -o - > annotated.png`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.json && f.output == visage.PipeName {
				return errors.New("--json cannot be combined with writing the image to stdout")
			}
			opts, err := a.cfg.Options(a.log)
			if err != nil {
				return err
			}
			p, err := visage.NewPipeline(opts)
			if err != nil {
				return err
			}
			if opts.Remover != nil {
				defer opts.Remover.Close()
			}

			op := &visage.Ops{
				Src:        f.input,
				Dst:        f.output,
				Foreground: f.foreground,
				Status:     cmd.ErrOrStderr(),
				Spinner:    term.IsTerminal(int(os.Stderr.Fd())),
			}
			if f.json {
				op.JSON = cmd.OutOrStdout()
			}
			_, err = p.Execute(cmd.Context(), op)
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.input, "input", "i", visage.PipeName, "Source image: file, URL or - for stdin")
	flags.StringVarP(&f.output, "output", "o", visage.PipeName, "Annotated image: file or - for stdout")
	flags.StringVar(&f.foreground, "foreground", "", "Write the background removed image to this PNG file")
	flags.BoolVar(&f.json, "json", false, "Print the face details as JSON on stdout")

	flags.Float64("scale-factor", 1.1, "Ratio between two successive detection window sizes")
	flags.Int("min-neighbors", 5, "Raw hits a face needs beyond its own")
	flags.Int("min-face", 30, "Smallest face side in pixels")
	flags.Bool("background", true, "Remove the image background")
	flags.String("remover", "rembg", "Background remover (rembg, rembg-http or lumakey)")
	flags.String("estimator", "placeholder", "Attribute estimator (placeholder or deepface)")
	flags.Int("workers", 0, "Concurrent attribute estimations (0 uses every CPU)")

	a.bind(cmd, "detector.scale_factor", "scale-factor")
	a.bind(cmd, "detector.min_neighbors", "min-neighbors")
	a.bind(cmd, "detector.min_face_size.width", "min-face")
	a.bind(cmd, "detector.min_face_size.height", "min-face")
	a.bind(cmd, "background_removal.enabled", "background")
	a.bind(cmd, "background_removal.backend", "remover")
	a.bind(cmd, "estimator.backend", "estimator")
	a.bind(cmd, "pipeline.workers", "workers")
	return cmd
}
