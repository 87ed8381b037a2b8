package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/kryptictrack/internal/replay"
)

var (
	fixtureOut         string
	fixtureLast        int
	fixtureDescription string
	fixtureMinAccuracy float64
)

var exportFixtureCmd = &cobra.Command{
	Use:   "export-fixture",
	Short: "Export recent logged actions as a replay fixture",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		f, err := replay.ExportFixture(cmd.Context(), st, fixtureLast, fixtureDescription, fixtureMinAccuracy)
		if err != nil {
			return err
		}
		if err := replay.WriteFixture(fixtureOut, f); err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "exported %d actions to %s\n", len(f.Actions), fixtureOut)
		return err
	},
}

func init() {
	exportFixtureCmd.Flags().StringVar(&fixtureOut, "out", "", "Output fixture path")
	exportFixtureCmd.Flags().IntVar(&fixtureLast, "last", 200, "Number of most recent actions to export")
	exportFixtureCmd.Flags().StringVar(&fixtureDescription, "description", "exported action log", "Fixture description")
	exportFixtureCmd.Flags().Float64Var(&fixtureMinAccuracy, "min-accuracy", 50, "Required replay accuracy in percent")
	_ = exportFixtureCmd.MarkFlagRequired("out")
}
