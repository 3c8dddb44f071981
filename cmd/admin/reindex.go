package main

import (
	"errors"

	"github.com/spf13/cobra"
)

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Push every hearing and comment to Meilisearch",
	RunE:  runReindex,
}

func init() {
	rootCmd.AddCommand(reindexCmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	if e.meili == nil {
		return errors.New("MEILI_URL is not set")
	}
	if !e.meili.Healthy() {
		return errors.New("meilisearch is not reachable")
	}
	n, err := e.service.Reindex(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		warn("nothing to index")
		return nil
	}
	success("indexed %d documents", n)
	return nil
}
