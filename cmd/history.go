package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nicholas-fedor/imagekeeper/internal/util"
	"github.com/nicholas-fedor/imagekeeper/pkg/history"
	"github.com/nicholas-fedor/imagekeeper/pkg/lineage"
)

// defaultHistoryLimit caps the history listing unless --limit says otherwise.
const defaultHistoryLimit = 20

func newHistoryCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history CONTAINER",
		Short: "List past update attempts of a container",
		Long:  "Lists the recorded update attempts of a container by name, newest first, across recreations.",
		Args:  cobra.ExactArgs(1),
		RunE:  runHistory,
	}

	cmd.Flags().Int("limit", defaultHistoryLimit, "Maximum number of records to list, 0 for all")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()

	limit, err := cmd.Flags().GetInt("limit")
	if err != nil {
		return err
	}

	db, err := openDatabase(ctx, cmd)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, db.Close()) }()

	records, err := history.New(db).QueryByName(ctx, util.NormalizeContainerName(args[0]), limit)
	if err != nil {
		return err
	}

	if len(records) == 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "No update attempts recorded for %s\n", args[0])

		return nil
	}

	return printHistory(cmd.OutOrStdout(), records)
}

func newDanglingCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dangling",
		Short: "List images that lost their tag to an update",
		Long:  "Lists tracked images without a tag, with the tag they carried before an update moved it.",
		Args:  cobra.NoArgs,
		RunE:  runDangling,
	}
}

func runDangling(cmd *cobra.Command, _ []string) (err error) {
	ctx := cmd.Context()

	db, err := openDatabase(ctx, cmd)
	if err != nil {
		return err
	}

	defer func() { err = errors.Join(err, db.Close()) }()

	images, err := lineage.New(db).ListDangling(ctx)
	if err != nil {
		return err
	}

	if len(images) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No dangling images")

		return nil
	}

	return printDangling(cmd.OutOrStdout(), images)
}
