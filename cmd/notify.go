package cmd

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagekeeper/pkg/notifications"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

var (
	// errNoNotificationURLs indicates notify-test ran without any --notification-url.
	errNoNotificationURLs = errors.New("no notification URLs configured")
	errUnknownStatus      = errors.New("unknown update status")
)

// Digests of the sample attempt sent by notify-test.
const (
	sampleOldDigest = types.Digest("sha256:0000000000000000000000000000000000000000000000000000000000000000")
	sampleNewDigest = types.Digest("sha256:1111111111111111111111111111111111111111111111111111111111111111")
)

func newNotifyTestCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "notify-test",
		Short: "Send a sample update notification",
		Long:  "Renders a sample update attempt with the configured template and sends it to every --notification-url.",
		Args:  cobra.NoArgs,
		RunE:  runNotifyTest,
	}

	cmd.Flags().String("status", string(types.StatusRolledBack), "Outcome of the sample attempt: success, failed or rolled_back")

	return cmd
}

func runNotifyTest(cmd *cobra.Command, _ []string) error {
	status, _ := cmd.Flags().GetString("status")

	record, err := sampleRecord(types.UpdateStatus(status))
	if err != nil {
		return err
	}

	notifier, err := notifications.NewNotifier(cmd.Root())
	if err != nil {
		return fmt.Errorf("%w: %w", errNotifier, err)
	}

	if notifier == nil {
		return errNoNotificationURLs
	}

	logrus.WithField("notifiers", strings.Join(notifier.GetNames(), ", ")).
		Info("Sending sample notification")

	notifier.Notify(record)
	notifier.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Sent sample %s notification to %d service(s)\n", record.Status, len(notifier.GetURLs()))

	return nil
}

// sampleRecord builds a plausible attempt for nginx:latest with the given outcome.
func sampleRecord(status types.UpdateStatus) (types.UpdateRecord, error) {
	now := time.Now()
	record := types.UpdateRecord{
		AttemptID:     uuid.NewString(),
		ContainerID:   "sample",
		ContainerName: "sample-web",
		OldImage:      "nginx:latest",
		NewImage:      "nginx:latest",
		OldDigest:     sampleOldDigest,
		Status:        status,
		StartedAt:     now.Add(-5 * time.Second),
		UpdatedAt:     now,
	}

	newDigest := sampleNewDigest
	message := "container exited during verification"

	switch status {
	case types.StatusSuccess:
		record.NewDigest = &newDigest
	case types.StatusRolledBack:
		record.NewDigest = &newDigest
		record.ErrorMessage = &message
	case types.StatusFailed:
		message = "pull failed: manifest unknown"
		record.ErrorMessage = &message
	default:
		return record, fmt.Errorf("%w: %q", errUnknownStatus, status)
	}

	return record, nil
}
