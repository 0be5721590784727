package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/acpxdev/acpx/internal/errs"
	"github.com/acpxdev/acpx/internal/outsink"
	"github.com/acpxdev/acpx/internal/runtime"
	"github.com/acpxdev/acpx/internal/store"
)

var (
	flagRunAgentCommand string
	flagRunCwd          string
	flagRunMessage      string
	flagRunLogFile      string
)

// runCmd implements spec.md §4.8's runOnce(options): start a new ACP
// client, create a one-shot session, prompt, and return the result. No
// queue owner is started and nothing is persisted, unlike `session send`.
var runCmd = &cobra.Command{
	Use:   "run <message>",
	Short: "Prompt a throwaway agent session once, with no persistence",
	Args:  cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := newFacade()
		if err != nil {
			return err
		}

		message := flagRunMessage
		if len(args) == 1 {
			message = args[0]
		}
		if message == "" {
			return errs.New(errs.CodeUsage, errs.OriginCLI, "no message provided")
		}
		if flagRunAgentCommand == "" {
			return errs.New(errs.CodeUsage, errs.OriginCLI, "--agent is required")
		}

		sink := outsink.DefaultSink(jsonOutput, flagRunLogFile, debug)

		stopReason, runErr := f.RunOnce(context.Background(), runtime.RunOnceOptions{
			AgentCommand: flagRunAgentCommand,
			Cwd:          store.NormalizeCwd(flagRunCwd),
			Message:      message,
		}, sink)
		if runErr != nil {
			if e := errs.As(runErr); e != nil {
				sink.OnError(e)
				_ = sink.Flush()
				e.OutputAlreadyEmitted = true
				return e
			}
			sink.OnError(errs.New(errs.CodeRuntime, errs.OriginRuntime, runErr.Error()))
			_ = sink.Flush()
			return runErr
		}

		sink.OnDone(string(stopReason))
		return sink.Flush()
	},
}

func init() {
	runCmd.Flags().StringVar(&flagRunAgentCommand, "agent", "", "Agent subprocess command (e.g. \"claude-code-acp\")")
	runCmd.Flags().StringVar(&flagRunCwd, "cwd", ".", "Working directory the agent should operate in")
	runCmd.Flags().StringVar(&flagRunMessage, "message", "", "Prompt text (alternative to the positional argument)")
	runCmd.Flags().StringVar(&flagRunLogFile, "log", "", "Mirror rendered text output to a log file")
}
