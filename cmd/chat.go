package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive question-and-answer session",
	Long: `Chat reads questions from stdin until EOF or "exit". All turns
share one session identifier, so repeated questions hit the cache.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	session := uuid.NewString()
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("indigo chat - type a question, or \"exit\" to quit")
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("reading input: %w", err)
		}

		query := strings.TrimSpace(line)
		if query == "" {
			continue
		}
		if query == "exit" || query == "quit" {
			return nil
		}

		answer, err := a.Engine.Answer(ctx, query, session)
		if err != nil {
			// Model failures are fatal to the request, not the session.
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			continue
		}
		fmt.Println(answer.Text)
	}
}
