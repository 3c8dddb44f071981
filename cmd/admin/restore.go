package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var restoreCmd = &cobra.Command{
	Use:   "restore <table> <id>",
	Short: "Undelete a soft-deleted row",
	Long: `Return a soft-deleted row to normal reads, for example
  kerrokantasi-admin restore section_comments 42
  kerrokantasi-admin restore hearings 3f9c0e1a...
Restoring a comment recounts its section, hearing and parent comment.`,
	Args: cobra.ExactArgs(2),
	RunE: runRestore,
}

func init() {
	rootCmd.AddCommand(restoreCmd)
}

func runRestore(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	table, id := args[0], args[1]
	restored, err := e.service.Restore(ctx, table, id)
	if err != nil {
		return fmt.Errorf("restore %s %s: %w", table, id, err)
	}
	if !restored {
		warn("%s %s is not deleted", table, id)
		return nil
	}
	success("restored %s %s", table, id)
	return nil
}
