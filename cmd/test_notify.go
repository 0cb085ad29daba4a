package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/job-radar/internal/notify"
)

var testNotifyCmd = &cobra.Command{
	Use:   "test-notify",
	Short: "Send a test notification through the configured transport",
	Run: func(cmd *cobra.Command, _ []string) {
		if err := testNotify(cmd); err != nil {
			fmt.Fprintln(os.Stderr, "Failed to send test notification. Check logs for details.")
			os.Exit(1)
		}
		fmt.Println("Test notification sent successfully!")
	},
}

func init() {
	rootCmd.AddCommand(testNotifyCmd)

	testNotifyCmd.Flags().StringSlice("to", nil, "override recipients for this message")
	testNotifyCmd.Flags().Duration("timeout", time.Minute, "how long to wait for the transport")
}

func testNotify(cmd *cobra.Command) error {
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

	notifier, err := newNotifier(config.Notify, logger)
	if err != nil {
		logger.Error("creating a notifier", zap.Error(err))
		return err
	}
	if notifier == nil {
		err := errors.New("notify.transport is not set")
		logger.Error("creating a notifier", zap.Error(err))
		return err
	}
	defer closeAll(logger, notifier)

	timeout, _ := cmd.Flags().GetDuration("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return sendTest(ctx, notifier, cmd, logger)
}

func sendTest(ctx context.Context, n notify.Notifier, cmd *cobra.Command, logger *zap.Logger) error {
	msg := notify.ComposeTest(time.Now())
	if to, _ := cmd.Flags().GetStringSlice("to"); len(to) > 0 {
		msg.To = to
	}

	logger.Info("sending test notification", zap.String("subject", msg.Subject))
	if err := n.Send(ctx, msg); err != nil {
		logger.Error("test notification failed", zap.Error(err))
		return err
	}

	return nil
}
