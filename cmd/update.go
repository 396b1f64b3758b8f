package cmd

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagekeeper/internal/util"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// containerRefs turns command arguments into container references by name.
func containerRefs(args []string) []types.ContainerRef {
	names := util.UniqueNames(args)
	refs := make([]types.ContainerRef, 0, len(names))

	for _, name := range names {
		refs = append(refs, types.ContainerRef{Name: name})
	}

	return refs
}

func newDetectCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "detect CONTAINER...",
		Short: "Check whether newer images are available",
		Long:  "Compares the digest each container runs with the digest its registry serves for the same tag.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runDetect,
	}
}

func runDetect(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	e, err := newEngine(ctx, cmd)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, e.Close()) }()

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	failed := 0

	for _, ref := range containerRefs(args) {
		verdict := e.detector.Detect(ctx, ref)
		if verdict.Kind == types.DetectionFailed {
			failed++
		}

		printVerdict(tw, verdict)
	}

	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if failed > 0 {
		return errUnsuccessful
	}

	return nil
}

func newApplyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply CONTAINER...",
		Short: "Replace containers with the newest image of their tag",
		Long: "Pulls the newest image for each container's tag and recreates the container from it.\n" +
			"When the new container fails to start, the previous one is restored.",
		Args: cobra.MinimumNArgs(1),
		RunE: runApply,
	}

	cmd.Flags().Bool("if-available", false, "Only apply to containers with a detected update")

	return cmd
}

func runApply(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	ifAvailable, err := cmd.Flags().GetBool("if-available")
	if err != nil {
		return err
	}

	e, err := newEngine(ctx, cmd)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, e.Close()) }()

	out := cmd.OutOrStdout()
	unsuccessful := false

	for _, ref := range containerRefs(args) {
		if ifAvailable {
			verdict := e.detector.Detect(ctx, ref)

			switch verdict.Kind {
			case types.UpToDate:
				printVerdict(out, verdict)

				continue
			case types.DetectionFailed:
				printVerdict(out, verdict)

				unsuccessful = true

				continue
			}
		}

		record, applyErr := e.applicator.Apply(ctx, ref)
		printRecord(out, record)

		if applyErr != nil {
			logrus.WithError(applyErr).WithField("container", ref).Debug("Update was not successful")

			unsuccessful = true
		}
	}

	if unsuccessful {
		return errUnsuccessful
	}

	return nil
}
