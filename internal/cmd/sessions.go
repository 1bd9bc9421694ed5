package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/Iron-Ham/gansauditor/internal/config"
	"github.com/Iron-Ham/gansauditor/internal/session"
	"github.com/spf13/cobra"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect persisted audit sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions in the configured state directory",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <sessionId>",
	Short: "Print the full persisted state of one session",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

func init() {
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	store, err := session.NewFileSessionStore(cfg.Session.StateDirectory)
	if err != nil {
		return fmt.Errorf("invalid session state directory: %w", err)
	}

	infos, err := store.ListSessions(context.Background())
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(infos) == 0 {
		fmt.Println("no sessions found")
		return nil
	}

	for _, info := range infos {
		status := "in-progress"
		if info.IsComplete {
			status = "complete (" + info.CompletionReason + ")"
		}
		locked := ""
		if info.IsLocked {
			locked = " [locked]"
		}
		fmt.Printf("%s\tloop=%d\t%s%s\n", info.ID, info.CurrentLoop, status, locked)
	}
	return nil
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	store, err := session.NewFileSessionStore(cfg.Session.StateDirectory)
	if err != nil {
		return fmt.Errorf("invalid session state directory: %w", err)
	}

	state, err := store.Load(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to load session %q: %w", args[0], err)
	}

	fmt.Fprintf(os.Stdout, "id:               %s\n", state.ID)
	fmt.Fprintf(os.Stdout, "loopId:           %s\n", state.LoopID)
	fmt.Fprintf(os.Stdout, "currentLoop:      %d\n", state.CurrentLoop())
	fmt.Fprintf(os.Stdout, "isComplete:       %t\n", state.IsComplete)
	if state.CompletionReason != "" {
		fmt.Fprintf(os.Stdout, "completionReason: %s\n", state.CompletionReason)
	}
	fmt.Fprintf(os.Stdout, "codexContext:     active=%t handle=%q\n", state.CodexContextActive, state.CodexContextID)
	if state.StagnationInfo != nil {
		fmt.Fprintf(os.Stdout, "stagnation:       %+v\n", *state.StagnationInfo)
	}
	return nil
}
