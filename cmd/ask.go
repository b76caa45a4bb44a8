package cmd

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var askSession string

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a single question",
	Long: `Ask answers one question from the knowledge store. Repeated
questions within the same session are served from the response cache.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askSession, "session", "", "session identifier (default: a fresh one per invocation)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session := askSession
	if session == "" {
		session = uuid.NewString()
	}

	answer, err := a.Engine.Answer(ctx, strings.Join(args, " "), session)
	if err != nil {
		return fmt.Errorf("answering: %w", err)
	}

	fmt.Println(answer.Text)
	return nil
}
