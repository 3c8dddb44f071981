package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kerrokantasi/api/internal/gdpr"
)

var (
	purgeOlderThanDays int
	purgeSteps         = map[gdpr.Step]*bool{}
)

var removeUserDataCmd = &cobra.Command{
	Use:   "remove-user-data",
	Short: "Anonymize and delete personal data older than a threshold",
	Long: `Remove personal data older than --older-than-days. Each step runs in its own
transaction and can be rerun safely. Without step flags every step runs.`,
	RunE: runRemoveUserData,
}

var stepHelp = map[gdpr.Step]string{
	gdpr.StepComments:    "Clear author and moderator references on old comments",
	gdpr.StepRelated:     "Clear user references on old related objects",
	gdpr.StepVotes:       "Fold registered votes of old comments into anonymous counts",
	gdpr.StepPollAnswers: "Detach users from poll answers of old comments",
	gdpr.StepHearings:    "Clear user references and contact persons of old hearings",
	gdpr.StepRevisions:   "Delete revision history of old comments",
	gdpr.StepUsers:       "Delete users that joined before the threshold and own nothing",
}

func init() {
	removeUserDataCmd.Flags().IntVar(&purgeOlderThanDays, "older-than-days", 0, "Age threshold in days (default GDPR_OLDER_THAN_DAYS)")
	for _, step := range gdpr.AllSteps {
		purgeSteps[step] = removeUserDataCmd.Flags().Bool(string(step), false, stepHelp[step])
	}
	rootCmd.AddCommand(removeUserDataCmd)
}

func runRemoveUserData(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	e, err := openEnv(ctx)
	if err != nil {
		return err
	}
	defer e.Close()

	days := purgeOlderThanDays
	if days == 0 {
		days = int(e.cfg.GDPROlderThan.Hours() / 24)
	}
	var steps []gdpr.Step
	for _, step := range gdpr.AllSteps {
		if *purgeSteps[step] {
			steps = append(steps, step)
		}
	}

	pipeline := gdpr.New(e.store, e.logger, e.cfg.AuditLogOrigin)
	results, err := pipeline.Run(ctx, gdpr.Options{OlderThanDays: days, Steps: steps})
	for _, result := range results {
		success("%-13s %d rows", result.Step, result.Affected)
	}
	if err != nil {
		return fmt.Errorf("remove user data: %w", err)
	}
	success("removed personal data older than %s", pipeline.Threshold(days).Format("2006-01-02"))
	return nil
}
