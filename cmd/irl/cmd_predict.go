package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
)

var (
	predictLast    int
	predictExplain bool
)

var predictCmd = &cobra.Command{
	Use:   "predict",
	Short: "Predict the next action from the most recent log entries",
	Args:  cobra.NoArgs,
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

		n := predictLast
		if n <= 0 {
			n = cfg.Inference.Window
		}
		recent, err := st.RecentActions(cmd.Context(), n)
		if err != nil {
			return err
		}
		p := mgr.PredictNextAction(cmd.Context(), recent, predictExplain)
		if err := printJSON(cmd, p); err != nil {
			return err
		}
		if !p.Available {
			return fmt.Errorf("prediction unavailable: %s", p.Message)
		}
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <prediction-id> <actual-action>",
	Short: "Record what the user actually did after a prediction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.ResolvePrediction(cmd.Context(), args[0], args[1]); err != nil {
			return err
		}
		rec, err := st.Prediction(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: predicted %s, actual %s, correct=%t\n",
			rec.PredictionID, rec.PredictedAction, rec.ActualAction, rec.WasCorrect)
		return err
	},
}

func init() {
	predictCmd.Flags().IntVar(&predictLast, "last", 0, "Recent actions to predict from (default inference.window)")
	predictCmd.Flags().BoolVar(&predictExplain, "explain", false, "Attach a natural-language explanation")
}
