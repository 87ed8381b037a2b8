package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/kryptictrack/internal/manager"
	"github.com/danielpatrickdp/kryptictrack/internal/metrics"
	"github.com/danielpatrickdp/kryptictrack/internal/store"
)

type infoOutput struct {
	Model   manager.Info       `json:"model"`
	Actions int                `json:"actions_logged"`
	LastRun *store.TrainingRun `json:"last_completed_run,omitempty"`
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show the loaded model and action log summary",
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

		out := infoOutput{Model: mgr.ModelInfo()}
		if out.Actions, err = st.CountActions(cmd.Context()); err != nil {
			return err
		}
		run, err := st.LastCompletedRun(cmd.Context())
		switch {
		case err == nil:
			out.LastRun = &run
		case !errors.Is(err, store.ErrNotFound):
			return err
		}
		return printJSON(cmd, out)
	},
}
