package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/acpxdev/acpx/internal/diag"
)

var flagServeEventsPort int

var serveEventsCmd = &cobra.Command{
	Use:   "serve-events <sessionId>",
	Short: "Serve a loopback-only MCP tool that tails a session's event log",
	Long:  `serve-events exposes read_session_events, a read-only MCP tool over a 127.0.0.1-bound HTTP listener. It never touches the queue socket and cannot drive the agent.`,
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

		sessionDir := f.Store.SegmentDir(rec.AcpxRecordID)
		srv := diag.NewServer(rec.AcpxRecordID, sessionDir)
		if err := srv.Start(flagServeEventsPort); err != nil {
			return err
		}
		defer srv.Stop()

		fmt.Println(srv.BaseURL())

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		return nil
	},
}

func init() {
	serveEventsCmd.Flags().IntVar(&flagServeEventsPort, "port", 0, "TCP port to bind on 127.0.0.1 (0 picks a free port)")
}
