package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
	"github.com/danielpatrickdp/kryptictrack/internal/replay"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

var (
	evalFixture string
	evalLast    int
)

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Measure next-action accuracy of the latest model",
	Long: `Replays a held-out action sequence through the latest checkpoint and
reports how often the top-ranked action matched what came next.
With --fixture the sequence comes from a replay fixture and the command
fails when the fixture's expectations are not met.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		mgr, release, err := newManager(st, metrics.New())
		if err != nil {
			return err
		}
		defer release()

		if evalFixture != "" {
			f, err := replay.LoadFixture(evalFixture)
			if err != nil {
				return err
			}
			res := replay.Replay(cmd.Context(), mgr, f)
			if err := printJSON(cmd, res); err != nil {
				return err
			}
			if !res.Passed {
				return fmt.Errorf("replay failed: %s", res.Reason)
			}
			return nil
		}

		test, err := st.LoadActions(cmd.Context(), store.ActionQuery{
			ExcludeTypes: action.NoiseTypes,
			Limit:        evalLast,
		})
		if err != nil {
			return err
		}
		return printJSON(cmd, mgr.EvaluateModel(cmd.Context(), test))
	},
}

func init() {
	evaluateCmd.Flags().StringVar(&evalFixture, "fixture", "", "Replay fixture JSON to evaluate against")
	evaluateCmd.Flags().IntVar(&evalLast, "last", 200, "Evaluate on the N most recent logged actions")
}
