package main

import (
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/kryptictrack/internal/logging"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

var (
	inspectLast int
	inspectRun  string
	inspectJSON bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Show training run history and provenance decisions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		if inspectRun != "" {
			return runDetailMode(cmd, st, inspectRun)
		}
		return runListMode(cmd, st, inspectLast)
	},
}

func init() {
	inspectCmd.Flags().IntVar(&inspectLast, "last", 20, "Show N most recent runs")
	inspectCmd.Flags().StringVar(&inspectRun, "run", "", "Show a single run in detail")
	inspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "Output as JSON instead of a table")
}

// #region list-mode
type listRow struct {
	RunID     string  `json:"run_id"`
	Status    string  `json:"status"`
	Epochs    int     `json:"epochs"`
	BestEpoch int     `json:"best_epoch"`
	FinalLoss float64 `json:"final_loss"`
	Actions   int     `json:"actions"`
	Decision  string  `json:"decision,omitempty"`
	Score     float32 `json:"score"`
	StartedAt string  `json:"started_at"`
}

func runListMode(cmd *cobra.Command, st *store.Store, last int) error {
	runs, err := st.ListTrainingRuns(cmd.Context(), last)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Fprintln(cmd.ErrOrStderr(), "no training runs found")
		return nil
	}

	// store returns newest first, show chronologically
	rows := make([]listRow, len(runs))
	for i, run := range runs {
		row := listRow{
			RunID:     run.RunID,
			Status:    run.Status,
			Epochs:    run.NumEpochs,
			BestEpoch: run.BestEpoch,
			FinalLoss: run.FinalLoss,
			Actions:   run.TotalActionsUsed,
			StartedAt: run.StartedAt.Format("2006-01-02T15:04:05Z"),
		}
		decisions, err := logging.Decisions(cmd.Context(), st.DB(), run.RunID)
		if err != nil {
			return err
		}
		if n := len(decisions); n > 0 {
			row.Decision = decisions[n-1].Decision
			row.Score = decisionScore(decisions[n-1])
		}
		rows[len(runs)-1-i] = row
	}

	if inspectJSON {
		return printJSON(cmd, rows)
	}
	printListTable(cmd.OutOrStdout(), rows)
	return nil
}

func printListTable(w io.Writer, rows []listRow) {
	fmt.Fprintf(w, "%-10s  %-9s  %6s  %4s  %10s  %7s  %-8s  %5s  %s\n",
		"Run", "Status", "Epochs", "Best", "Loss", "Actions", "Decision", "Score", "Started")
	fmt.Fprintf(w, "%-10s+-%-9s+-%6s+-%4s+-%10s+-%7s+-%-8s+-%5s+-%s\n",
		"----------", "---------", "------", "----", "----------", "-------", "--------", "-----", "--------------------")
	for _, r := range rows {
		decision := r.Decision
		if decision == "" {
			decision = "-"
		}
		fmt.Fprintf(w, "%-10s  %-9s  %6d  %4d  %10.4f  %7d  %-8s  %5.2f  %s\n",
			shortID(r.RunID), r.Status, r.Epochs, r.BestEpoch, r.FinalLoss, r.Actions, decision, r.Score, r.StartedAt)
	}
}
// #endregion list-mode

// #region detail-mode
type detailOutput struct {
	Run       store.TrainingRun         `json:"run"`
	Decisions []logging.ProvenanceEntry `json:"decisions"`
	Record    *logging.RunRecord        `json:"record,omitempty"`
}

func runDetailMode(cmd *cobra.Command, st *store.Store, runID string) error {
	run, err := st.TrainingRun(cmd.Context(), runID)
	if err != nil {
		return err
	}
	decisions, err := logging.Decisions(cmd.Context(), st.DB(), runID)
	if err != nil {
		return err
	}
	out := detailOutput{Run: run, Decisions: decisions}
	if n := len(decisions); n > 0 {
		out.Record = parseRunRecord(decisions[n-1].RecordJSON)
	}
	if inspectJSON {
		return printJSON(cmd, out)
	}

	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Run:        %s\n", run.RunID)
	fmt.Fprintf(w, "Status:     %s\n", run.Status)
	fmt.Fprintf(w, "Started:    %s\n", run.StartedAt.Format("2006-01-02T15:04:05Z"))
	if !run.CompletedAt.IsZero() {
		fmt.Fprintf(w, "Finished:   %s\n", run.CompletedAt.Format("2006-01-02T15:04:05Z"))
	}
	fmt.Fprintf(w, "Epochs:     %d (best %d, loss %.4f)\n", run.NumEpochs, run.BestEpoch, run.FinalLoss)
	fmt.Fprintf(w, "Actions:    %d [%d..%d]\n", run.TotalActionsUsed, run.FirstActionID, run.LastActionID)
	if len(run.DataSources) > 0 {
		fmt.Fprintf(w, "Sources:    %s\n", strings.Join(run.DataSources, ", "))
	}
	if run.ModelPath != "" {
		fmt.Fprintf(w, "Model:      %s\n", run.ModelPath)
	}

	for _, d := range decisions {
		fmt.Fprintf(w, "\nDecision:   %s (%s, score %.2f)\n", d.Decision, d.TriggerType, decisionScore(d))
		if d.Reason != "" {
			fmt.Fprintf(w, "Reason:     %s\n", d.Reason)
		}
	}

	if rec := out.Record; rec != nil {
		if rec.WarmStart != "" {
			fmt.Fprintf(w, "\nWarm start: %s\n", rec.WarmStart)
		}
		fmt.Fprintf(w, "\nEvaluation (passed=%v):\n", rec.EvalPassed)
		for _, name := range slices.Sorted(maps.Keys(rec.EvalMetrics)) {
			fmt.Fprintf(w, "  %-18s %.4f\n", name, rec.EvalMetrics[name])
		}
		fmt.Fprintf(w, "  thresholds: min_reward_std=%g min_ranking_accuracy=%g\n",
			rec.Thresholds.MinRewardStd, rec.Thresholds.MinRankingAccuracy)
	}
	return nil
}
// #endregion detail-mode

// #region output
// decisionScore grades a decision: 1 for a committed model, -1 when
// evaluation rejected it, 0.5 for a no-op.
func decisionScore(d logging.ProvenanceEntry) float32 {
	switch d.Decision {
	case logging.DecisionCommit:
		return 1.0
	case logging.DecisionReject:
		if strings.Contains(d.Reason, "eval failed") {
			return -1.0
		}
		return 0.0
	case logging.DecisionNoOp:
		return 0.5
	default:
		return 0.0
	}
}

func parseRunRecord(recordJSON string) *logging.RunRecord {
	if recordJSON == "" {
		return nil
	}
	var rr logging.RunRecord
	if err := json.Unmarshal([]byte(recordJSON), &rr); err == nil && rr.RunID != "" {
		return &rr
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
// #endregion output
