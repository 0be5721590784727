package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/acpxdev/acpx/internal/attachtui"
	"github.com/acpxdev/acpx/internal/queue"
)

var attachCmd = &cobra.Command{
	Use:   "attach <sessionId>",
	Short: "Observe a session's live prompt stream, read-only",
	Long:  `attach connects to a session's queue owner and renders whatever prompt is active or next submitted. It never submits a prompt itself.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		rec, err := f.Store.ResolveSessionRecord(args[0])
		if err != nil {
			return err
		}
		paths := queue.PathsFor(f.Config.QueuesDir(), rec.AcpxRecordID)
		label := rec.AcpxRecordID
		if rec.Name != "" {
			label = rec.Name
		}
		return attachtui.Run(context.Background(), paths, label)
	},
}
