package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

// runOwnerCmd is the hidden entrypoint spawned by sendSession when no
// queue owner is reachable (spec.md §4.6/§4.7). It is never invoked
// interactively.
var runOwnerCmd = &cobra.Command{
	Use:    "__run-owner <acpxRecordId>",
	Hidden: true,
	Args:   cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		return f.RunOwner(context.Background(), args[0])
	},
}
