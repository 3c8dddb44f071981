package main

import (
	"github.com/spf13/cobra"

	"kerrokantasi/api/internal/mockdata"
)

var mockOpts mockdata.Options

var mockPopulateCmd = &cobra.Command{
	Use:   "mock-populate",
	Short: "Fill the database with random users, labels and hearings",
	RunE:  runMockPopulate,
}

func init() {
	mockPopulateCmd.Flags().IntVar(&mockOpts.Users, "users", 10, "Number of users")
	mockPopulateCmd.Flags().IntVar(&mockOpts.Labels, "labels", 5, "Number of labels")
	mockPopulateCmd.Flags().IntVar(&mockOpts.Hearings, "hearings", 5, "Number of hearings")
	mockPopulateCmd.Flags().Uint64Var(&mockOpts.Seed, "seed", 0, "Random seed (0 picks one)")
	rootCmd.AddCommand(mockPopulateCmd)
}

func runMockPopulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	result, err := mockdata.New(e.service, e.store, e.logger).Populate(ctx, mockOpts)
	if err != nil {
		return err
	}
	success("%d users, %d labels, %d hearings", len(result.Users), len(result.Labels), len(result.Hearings))
	return nil
}
