package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/acpxdev/acpx/internal/errs"
	"github.com/acpxdev/acpx/internal/outsink"
)

var sessionCmd = &cobra.Command{
	Use:   "session",
	Short: "Manage and drive acpx-managed ACP sessions",
}

func init() {
	sessionCmd.AddCommand(sessionCreateCmd)
	sessionCmd.AddCommand(sessionEnsureCmd)
	sessionCmd.AddCommand(sessionSendCmd)
	sessionCmd.AddCommand(sessionCancelCmd)
	sessionCmd.AddCommand(sessionModeCmd)
	sessionCmd.AddCommand(sessionConfigCmd)
	sessionCmd.AddCommand(sessionCloseCmd)
	sessionCmd.AddCommand(sessionListCmd)
}

var (
	flagAgentCommand string
	flagCwd          string
	flagName         string
	flagBoundary     string
)

func addSessionIdentityFlags(c *cobra.Command) {
	c.Flags().StringVar(&flagAgentCommand, "agent", "", "Agent subprocess command (e.g. \"claude-code-acp\")")
	c.Flags().StringVar(&flagCwd, "cwd", ".", "Working directory the agent should operate in")
	c.Flags().StringVar(&flagName, "name", "", "Optional name disambiguating multiple sessions in the same directory")
}

var sessionCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new session record without starting the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		rec, err := f.CreateSession(flagAgentCommand, flagCwd, flagName)
		if err != nil {
			return err
		}
		fmt.Println(rec.AcpxRecordID)
		return nil
	},
}

var sessionEnsureCmd = &cobra.Command{
	Use:   "ensure",
	Short: "Find a matching session or create one",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		rec, err := f.EnsureSession(flagAgentCommand, flagCwd, flagName, flagBoundary)
		if err != nil {
			return err
		}
		fmt.Println(rec.AcpxRecordID)
		return nil
	},
}

var (
	flagMessage   string
	flagTTLMs     float64
	flagWaitForCompletion bool
	flagLogFile   string
)

var sessionSendCmd = &cobra.Command{
	Use:   "send <sessionId> <message>",
	Short: "Submit a prompt to a session, starting its queue owner if needed",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		rec, err := f.Store.ResolveSessionRecord(args[0])
		if err != nil {
			return err
		}

		message := flagMessage
		if len(args) == 2 {
			message = args[1]
		}
		if message == "" {
			return errs.New(errs.CodeUsage, errs.OriginCLI, "no message provided")
		}

		sink := outsink.DefaultSink(jsonOutput, flagLogFile, debug)
		adapter := outsink.NewQueueSinkAdapter(sink)
		adapter.Sink.SetContext(rec.AcpSessionID, rec.AcpxRecordID)

		hasTTL := cmd.Flags().Changed("ttl-ms")
		ctx := context.Background()
		_, sendErr := f.SendSession(ctx, rec, message, flagTTLMs, hasTTL, flagWaitForCompletion, adapter)
		if sendErr != nil {
			if e := errs.As(sendErr); e != nil {
				adapter.ReportError(e)
				e.OutputAlreadyEmitted = true
				return e
			}
			return sendErr
		}
		return sink.Flush()
	},
}

var sessionCancelCmd = &cobra.Command{
	Use:   "cancel <sessionId>",
	Short: "Cancel the currently active prompt on a session, if any",
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
		cancelled, err := f.CancelSessionPrompt(context.Background(), rec)
		if err != nil {
			return err
		}
		fmt.Println(cancelled)
		return nil
	},
}

var flagModeID string

var sessionModeCmd = &cobra.Command{
	Use:   "mode <sessionId>",
	Short: "Set a session's active mode",
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
		return f.SetSessionMode(context.Background(), rec, flagModeID, 10*time.Second)
	},
}

var (
	flagConfigID    string
	flagConfigValue string
)

var sessionConfigCmd = &cobra.Command{
	Use:   "config <sessionId>",
	Short: "Set a session config option",
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
		return f.SetSessionConfigOption(context.Background(), rec, flagConfigID, flagConfigValue, 10*time.Second)
	},
}

var sessionCloseCmd = &cobra.Command{
	Use:   "close <sessionId>",
	Short: "Terminate a session's queue owner and mark it closed",
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
		return f.CloseSession(context.Background(), rec)
	},
}

var sessionListCmd = &cobra.Command{
	Use:   "list",
	Short: "List known sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}
		recs, err := f.Store.ListSessions()
		if err != nil {
			return err
		}
		for _, r := range recs {
			status := "open"
			if r.Closed {
				status = "closed"
			}
			fmt.Printf("%s\t%s\t%s\t%s\n", r.AcpxRecordID, status, r.AgentCommand, r.Cwd)
		}
		return nil
	},
}

func init() {
	addSessionIdentityFlags(sessionCreateCmd)
	addSessionIdentityFlags(sessionEnsureCmd)
	sessionEnsureCmd.Flags().StringVar(&flagBoundary, "boundary", "", "Directory to stop walking upward at (defaults to cwd itself)")

	sessionSendCmd.Flags().StringVar(&flagMessage, "message", "", "Prompt text (alternative to the positional argument)")
	sessionSendCmd.Flags().Float64Var(&flagTTLMs, "ttl-ms", 0, "Queue owner idle TTL in milliseconds (0 keeps it alive forever)")
	sessionSendCmd.Flags().BoolVar(&flagWaitForCompletion, "wait", true, "Block until the prompt settles")
	sessionSendCmd.Flags().StringVar(&flagLogFile, "log", "", "Mirror rendered text output to a log file")

	sessionModeCmd.Flags().StringVar(&flagModeID, "mode-id", "", "Mode id to switch to")
	sessionConfigCmd.Flags().StringVar(&flagConfigID, "config-id", "", "Config option id")
	sessionConfigCmd.Flags().StringVar(&flagConfigValue, "value", "", "Config option value")
}
