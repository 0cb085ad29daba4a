package cmd

import (
	"context"
	"fmt"
	"io"
	"log"
	"maps"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print dedup and run statistics for a user",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := stats(cmd); err != nil {
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)

	statsCmd.Flags().StringP("user", "u", "", "user id. Asks interactively when unset and several users are configured")
}

func stats(cmd *cobra.Command) error {
	ctx := context.Background()

	logger, err := newLogger()
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}
	defer logger.Sync()

	config, err := loadConfig(logger)
	if err != nil {
		logger.Error("loading config", zap.Error(err))
		return err
	}

	dir, err := newDirectory(config)
	if err != nil {
		logger.Error("loading users", zap.Error(err))
		return err
	}

	id, _ := cmd.Flags().GetString("user")
	if id == "" {
		if id, err = selectUser(dir, promptUser); err != nil {
			logger.Error("selecting a user", zap.Error(err))
			return err
		}
	}

	db, err := openStore(ctx, config.Database)
	if err != nil {
		logger.Error("opening the store", zap.Error(err))
		return err
	}
	defer closeAll(logger, db)

	st, err := db.Stats(ctx, id)
	if err != nil {
		logger.Error("reading stats", zap.String("user_id", id), zap.Error(err))
		return err
	}

	printStats(os.Stdout, id, st)

	return nil
}

func printStats(w io.Writer, userID string, st *store.Stats) {
	fmt.Fprintf(w, "\n=== job-radar statistics for %s ===\n", userID)
	fmt.Fprintf(w, "Listings tracked: %d\n", st.Tracked)
	fmt.Fprintf(w, "Listings notified: %d\n", st.Notified)
	fmt.Fprintf(w, "Unnotified listings: %d\n", st.Unnotified)
	fmt.Fprintf(w, "Total pipeline runs: %d\n", st.Runs)

	if len(st.BySource) > 0 {
		fmt.Fprintln(w, "\nListings by source:")
		for _, name := range slices.Sorted(maps.Keys(st.BySource)) {
			label := name
			if label == "" {
				label = "unknown"
			}
			fmt.Fprintf(w, "  %s: %d\n", label, st.BySource[name])
		}
	}

	if run := st.LastRun; run != nil {
		fmt.Fprintf(w, "\nLast run: %s\n", run.RunAt.Format(time.RFC3339))
		fmt.Fprintf(w, "  Fetched: %d\n", run.Fetched)
		fmt.Fprintf(w, "  New: %d\n", run.New)
		fmt.Fprintf(w, "  Matched: %d\n", run.Matched)
		fmt.Fprintf(w, "  Notified: %s\n", yesNo(run.Notified))
		if run.Error != "" {
			fmt.Fprintf(w, "  Error: %s\n", run.Error)
		}
	}
	fmt.Fprintln(w)
}
