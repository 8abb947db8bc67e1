package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/engine"
	"github.com/sells-group/livability/internal/geo"
	"github.com/sells-group/livability/internal/present"
	"github.com/sells-group/livability/internal/scorer"
)

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render one livability frame to a PNG file",
	Long:  "Scores a viewport and writes the colourised frame as PNG. The viewport defaults to the configured extent; its size comes from --width/--height or --zoom.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		req, err := renderRequest(cmd)
		if err != nil {
			return err
		}
		out, _ := cmd.Flags().GetString("out")

		e, err := buildEngine(ctx, cfg, "render")
		if err != nil {
			return err
		}
		if req.Bounds == (geo.Bounds{}) {
			req.Bounds = e.Extent()
		}

		frame, err := e.Render(ctx, req)
		if err != nil {
			return eris.Wrap(err, "render")
		}
		defer frame.Release()

		f, err := os.Create(out)
		if err != nil {
			return eris.Wrapf(err, "create %s", out)
		}
		if err := present.EncodePNG(f, frame.Width, frame.Height, frame.RGBA); err != nil {
			_ = f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close %s", out)
		}

		zap.L().Info("frame written",
			zap.String("path", out),
			zap.Int("width", frame.Width),
			zap.Int("height", frame.Height),
			zap.Int("fine_zoom", frame.Stats.FineZoom),
		)

		data, err := json.MarshalIndent(frame, "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode frame stats")
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

// renderRequest builds the engine request from flags.
func renderRequest(cmd *cobra.Command) (engine.Request, error) {
	var req engine.Request
	flags := cmd.Flags()

	if raw, _ := flags.GetString("bbox"); raw != "" {
		b, err := geo.ParseBounds(raw)
		if err != nil {
			return req, err
		}
		req.Bounds = b
	}
	req.Width, _ = flags.GetInt("width")
	req.Height, _ = flags.GetInt("height")
	req.Zoom, _ = flags.GetInt("zoom")
	req.ResidentOnly, _ = flags.GetBool("resident")
	if req.Width < 0 || req.Height < 0 || req.Zoom < 0 {
		return req, eris.New("render: width, height and zoom must be >= 0")
	}
	if raw, _ := flags.GetString("normalize"); raw != "" {
		mode, err := scorer.ParseNormalizeMode(raw)
		if err != nil {
			return req, err
		}
		req.Normalize = &mode
	}
	return req, nil
}

func init() {
	renderCmd.Flags().String("bbox", "", "viewport as west,south,east,north (default: configured extent)")
	renderCmd.Flags().Int("width", 0, "frame width in pixels")
	renderCmd.Flags().Int("height", 0, "frame height in pixels")
	renderCmd.Flags().Int("zoom", 10, "map zoom used when width or height is zero")
	renderCmd.Flags().Bool("resident", false, "render from resident tiles only")
	renderCmd.Flags().String("normalize", "", "override normalisation (global, frame)")
	renderCmd.Flags().StringP("out", "o", "livability.png", "output PNG path")
	rootCmd.AddCommand(renderCmd)
}
