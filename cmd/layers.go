package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/livability/internal/layer"
	"github.com/sells-group/livability/internal/present"
)

var layersCmd = &cobra.Command{
	Use:   "layers",
	Short: "Inspect and export layer configuration",
}

var layersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the configured layers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		specs, err := cfg.LayerSpecs()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tKIND\tENABLED\tWEIGHT\tINPUT\tTRANSFER")
		_, _ = fmt.Fprintln(w, "--\t----\t-------\t------\t-----\t--------")
		for _, s := range specs {
			input := s.Kind.String()
			if s.Kind == layer.KindAttribute {
				input = s.Variable
			}
			transfer := "aspect preferences"
			if s.Kind != layer.KindAspect {
				t := s.Transfer
				transfer = fmt.Sprintf("%s %g..%g [%g,%g]", t.Shape, t.PlateauStart, t.DecayEnd, t.Floor, t.Ceiling)
				if t.Mandatory {
					transfer += " mandatory"
				}
			}
			_, _ = fmt.Fprintf(w, "%s\t%s\t%t\t%g\t%s\t%s\n", s.ID, s.Kind, s.Enabled, s.Weight, input, transfer)
		}
		return w.Flush()
	},
}

var layersExportCmd = &cobra.Command{
	Use:   "export <path>",
	Short: "Write the configured layers as a preset file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		specs, err := cfg.LayerSpecs()
		if err != nil {
			return err
		}
		name, _ := cmd.Flags().GetString("name")
		if err := layer.SavePreset(args[0], &layer.Preset{Name: name, Layers: specs}); err != nil {
			return err
		}
		zap.L().Info("preset written", zap.String("path", args[0]), zap.Int("layers", len(specs)))
		return nil
	},
}

var rampsCmd = &cobra.Command{
	Use:   "ramps",
	Short: "List the available colour ramps",
	RunE: func(cmd *cobra.Command, _ []string) error {
		for _, name := range present.RampNames() {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), name)
		}
		return nil
	},
}

func init() {
	layersExportCmd.Flags().String("name", "custom", "preset name")
	layersCmd.AddCommand(layersListCmd)
	layersCmd.AddCommand(layersExportCmd)
	rootCmd.AddCommand(layersCmd)
	rootCmd.AddCommand(rampsCmd)
}
