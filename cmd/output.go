package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// shortDigestLength is how many hex characters of a digest are printed.
const shortDigestLength = 12

// timeLayout is used for record and lineage timestamps.
const timeLayout = "2006-01-02 15:04:05"

// shortDigest prints the algorithm and the first characters of the hex part.
func shortDigest(d types.Digest) string {
	if d == "" {
		return "-"
	}

	if d.Validate() != nil {
		return string(d)
	}

	encoded := d.Encoded()
	if len(encoded) > shortDigestLength {
		encoded = encoded[:shortDigestLength]
	}

	return d.Algorithm().String() + ":" + encoded
}

// verdictLabel colours the verdict kind.
func verdictLabel(kind types.VerdictKind) string {
	switch kind {
	case types.UpToDate:
		return color.New(color.FgGreen).Sprint("up to date")
	case types.UpdateAvailable:
		return color.New(color.FgYellow).Sprint("update available")
	default:
		return color.New(color.FgRed).Sprint("detection failed")
	}
}

// statusLabel colours the record status.
func statusLabel(status types.UpdateStatus) string {
	switch status {
	case types.StatusSuccess:
		return color.New(color.FgGreen).Sprint(string(status))
	case types.StatusRolledBack:
		return color.New(color.FgYellow).Sprint(string(status))
	default:
		return color.New(color.FgRed).Sprint(string(status))
	}
}

// printVerdict writes one line per verdict.
func printVerdict(w io.Writer, v types.Verdict) {
	switch v.Kind {
	case types.UpToDate:
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", v.Container, v.Image, verdictLabel(v.Kind), shortDigest(v.OldDigest))
	case types.UpdateAvailable:
		fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\n",
			v.Container, v.Image, verdictLabel(v.Kind), shortDigest(v.OldDigest), shortDigest(v.RemoteDigest))
	default:
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", v.Container, v.Image, verdictLabel(v.Kind), v.Reason)
	}
}

// printRecord writes the outcome of one attempt.
func printRecord(w io.Writer, r types.UpdateRecord) {
	newDigest := "-"
	if r.NewDigest != nil {
		newDigest = shortDigest(*r.NewDigest)
	}

	fmt.Fprintf(w, "%s\t%s\t%s\t%s -> %s\t%s\n",
		r.ContainerName, statusLabel(r.Status), r.OldImage, shortDigest(r.OldDigest), newDigest,
		r.UpdatedAt.Sub(r.StartedAt).Round(time.Millisecond))

	if msg := r.Error(); msg != "" {
		fmt.Fprintf(w, "  %s\n", color.New(color.FgRed).Sprint(msg))
	}
}

// printHistory writes records as a table, newest first as given.
func printHistory(w io.Writer, records []types.UpdateRecord) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "STARTED\tSTATUS\tIMAGE\tDIGEST\tERROR")

	for _, r := range records {
		newDigest := "-"
		if r.NewDigest != nil {
			newDigest = shortDigest(*r.NewDigest)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s -> %s\t%s\n",
			r.StartedAt.Local().Format(timeLayout), statusLabel(r.Status), r.OldImage,
			shortDigest(r.OldDigest), newDigest, r.Error())
	}

	return tw.Flush()
}

// printDangling writes dangling images with the tag they lost.
func printDangling(w io.Writer, images []types.ManagedImage) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintln(tw, "IMAGE ID\tREPOSITORY\tPREVIOUS TAG\tDIGEST\tUNTAGGED")

	for _, image := range images {
		previous := image.PreviousTag
		if previous == "" {
			previous = "-"
		}

		untagged := "-"
		if image.TransitionedAt != nil {
			untagged = image.TransitionedAt.Local().Format(timeLayout)
		}

		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			image.ImageID.ShortID(), image.Repository, color.New(color.FgYellow).Sprint(previous),
			shortDigest(image.Digest), untagged)
	}

	return tw.Flush()
}
