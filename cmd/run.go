package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/users"
)

var errNoUser = errors.New("no user selected")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for a user",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringP("user", "u", "", "user id to run for. Asks interactively when unset and several users are configured")
	runCmd.Flags().BoolP("all", "a", false, "run for every configured user")
	runCmd.Flags().Bool("dry-run", false, "fetch and score listings but do not send notifications")
}

func run(cmd *cobra.Command) error {
	ctx := context.Background()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	logger.Info("starting the job-radar", zap.String("version", version))

	c, err := setup(ctx, logger)
	if err != nil {
		logger.Error("setting up", zap.Error(err))
		return err
	}
	defer c.Close()

	dryRun, _ := cmd.Flags().GetBool("dry-run")
	orchestrator := c.orchestrator.WithDryRun(dryRun)

	targets, err := runTargets(cmd, c.directory)
	if err != nil {
		logger.Error("selecting a user", zap.Error(err))
		return err
	}

	var failed error
	for _, id := range targets {
		rec, err := orchestrator.RunPipeline(ctx, id)
		if rec != nil {
			printRunRecord(rec)
		}
		if err != nil {
			logger.Error("pipeline failed", zap.String("user_id", id), zap.Error(err))
			failed = errors.Join(failed, err)
		}
	}

	return failed
}

func runTargets(cmd *cobra.Command, dir *users.Directory) ([]string, error) {
	if all, _ := cmd.Flags().GetBool("all"); all {
		return dir.IDs(), nil
	}

	if id, _ := cmd.Flags().GetString("user"); id != "" {
		if _, err := dir.Get(id); err != nil {
			return nil, err
		}
		return []string{id}, nil
	}

	id, err := selectUser(dir, promptUser)
	if err != nil {
		return nil, err
	}

	return []string{id}, nil
}

// selectUser returns the only configured user or asks which one to use.
func selectUser(dir *users.Directory, ask func(ids []string) (string, error)) (string, error) {
	ids := dir.IDs()
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("%w: no users configured", errNoUser)
	case 1:
		return ids[0], nil
	}

	id, err := ask(ids)
	if err != nil {
		return "", fmt.Errorf("%w: %w", errNoUser, err)
	}

	return id, nil
}

func promptUser(ids []string) (string, error) {
	prompt := promptui.Select{
		Label: "Run the pipeline for",
		Items: ids,
	}

	_, id, err := prompt.Run()

	return id, err
}

func printRunRecord(rec *store.RunRecord) {
	fmt.Printf("\n=== Run %s for %s ===\n", rec.ID, rec.UserID)
	fmt.Printf("Fetched: %d\n", rec.Fetched)
	fmt.Printf("New: %d\n", rec.New)
	fmt.Printf("Matched: %d\n", rec.Matched)
	fmt.Printf("Notified: %s\n", yesNo(rec.Notified))
	fmt.Printf("Duration: %s\n", rec.Duration.Round(time.Millisecond))
	if rec.Error != "" {
		fmt.Printf("Error: %s\n", rec.Error)
	}
	fmt.Println()
}

func yesNo(v bool) string {
	if v {
		return "Yes"
	}
	return "No"
}
