package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/danielpatrickdp/kryptictrack/internal/action"
)

var (
	recordSource    string
	recordType      string
	recordContext   string
	recordSession   string
	recordTimestamp float64
)

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Append one action to the log",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a := action.Action{
			Timestamp:  recordTimestamp,
			Source:     recordSource,
			ActionType: recordType,
			SessionID:  recordSession,
		}
		if recordContext != "" {
			if err := json.Unmarshal([]byte(recordContext), &a.Context); err != nil {
				return fmt.Errorf("parse --context: %w", err)
			}
		}

		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()

		id, err := st.AppendAction(cmd.Context(), a)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
		return err
	},
}

func init() {
	recordCmd.Flags().StringVar(&recordSource, "source", "", "Capturing app or integration (e.g. vscode)")
	recordCmd.Flags().StringVar(&recordType, "type", "", "Action type (e.g. file_edit)")
	recordCmd.Flags().StringVar(&recordContext, "context", "", "Action context as a JSON object")
	recordCmd.Flags().StringVar(&recordSession, "session", "", "Session ID")
	recordCmd.Flags().Float64Var(&recordTimestamp, "timestamp", 0, "Seconds since epoch (default now)")
	_ = recordCmd.MarkFlagRequired("type")
}
