package main

import (
	"encoding/json"
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var (
	sampleLon float64
	sampleLat float64
)

var sampleCmd = &cobra.Command{
	Use:   "sample",
	Short: "Print terrain, region and score at one location",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		e, err := buildEngine(ctx, cfg, "sample")
		if err != nil {
			return err
		}
		if !e.Extent().Contains(sampleLon, sampleLat) {
			return eris.Errorf("sample: %g,%g is outside the extent %s", sampleLon, sampleLat, e.Extent())
		}

		data, err := json.MarshalIndent(e.Sample(ctx, sampleLon, sampleLat), "", "  ")
		if err != nil {
			return eris.Wrap(err, "encode sample")
		}
		_, _ = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	sampleCmd.Flags().Float64Var(&sampleLon, "lon", 0, "longitude (required)")
	sampleCmd.Flags().Float64Var(&sampleLat, "lat", 0, "latitude (required)")
	_ = sampleCmd.MarkFlagRequired("lon")
	_ = sampleCmd.MarkFlagRequired("lat")
	rootCmd.AddCommand(sampleCmd)
}
