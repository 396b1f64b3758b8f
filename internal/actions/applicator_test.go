package actions_test

import (
	"context"
	"errors"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/nicholas-fedor/imagekeeper/internal/actions"
	"github.com/nicholas-fedor/imagekeeper/internal/actions/mocks"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

var _ = ginkgo.Describe("the applicator", func() {
	var e *engine

	ctx := context.Background()

	ginkgo.BeforeEach(func() {
		e = newEngine(nginxNew, actions.ApplyOptions{})
	})

	ginkgo.When("the update goes through", func() {
		ginkgo.It("replaces web-1 with a container running the new digest", func() {
			verdict := e.detector.Detect(ctx, e.byName())
			gomega.Expect(verdict.Kind).To(gomega.Equal(types.UpdateAvailable))
			gomega.Expect(verdict.OldDigest).To(gomega.Equal(digestAAA))
			gomega.Expect(verdict.RemoteDigest).To(gomega.Equal(digestBBB))

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(record.Status).To(gomega.Equal(types.StatusSuccess))
			gomega.Expect(record.OldDigest).To(gomega.Equal(digestAAA))
			gomega.Expect(record.NewDigest).NotTo(gomega.BeNil())
			gomega.Expect(*record.NewDigest).To(gomega.Equal(digestBBB))
			gomega.Expect(record.ErrorMessage).To(gomega.BeNil())
			gomega.Expect(record.OldImage).To(gomega.Equal("nginx:1.25"))
			gomega.Expect(record.NewImage).To(gomega.Equal("nginx:1.25"))
			gomega.Expect(record.ContainerName).To(gomega.Equal("web-1"))
			gomega.Expect(record.AttemptID).NotTo(gomega.BeEmpty())
			gomega.Expect(record.UpdatedAt).NotTo(gomega.BeTemporally("<", record.StartedAt))

			c, ok := e.runtime.Container("web-1")
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(c.Running).To(gomega.BeTrue())
			gomega.Expect(c.ID).NotTo(gomega.Equal(e.web.ID))
			gomega.Expect(c.Image.Digest).To(gomega.Equal(digestBBB))
			gomega.Expect(c.Env).To(gomega.ConsistOf("MODE=production"))
			gomega.Expect(c.Labels).To(gomega.HaveKeyWithValue("app", "web-1"))
			gomega.Expect(record.ContainerID).To(gomega.Equal(e.web.ID))

			gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
		})

		ginkgo.It("files the record under the id the container had when the attempt began", func() {
			_, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			c, ok := e.runtime.Container("web-1")
			gomega.Expect(ok).To(gomega.BeTrue())

			byOld, err := e.history.QueryByContainer(ctx, e.web.ID, 10)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(byOld).To(gomega.HaveLen(1))
			gomega.Expect(byOld[0].Status).To(gomega.Equal(types.StatusSuccess))

			byNew, err := e.history.QueryByContainer(ctx, c.ID, 10)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(byNew).To(gomega.BeEmpty())
		})

		ginkgo.It("runs the steps in order, pulling before stopping", func() {
			_, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			gomega.Expect(e.runtime.Ops(
				mocks.OpInspect, mocks.OpPull, mocks.OpStop, mocks.OpRemove,
				mocks.OpCreate, mocks.OpStart, mocks.OpWait,
			)).To(gomega.Equal([]mocks.Op{
				mocks.OpInspect, mocks.OpPull, mocks.OpStop, mocks.OpRemove,
				mocks.OpCreate, mocks.OpStart, mocks.OpWait, mocks.OpInspect,
			}))
		})

		ginkgo.It("marks the replaced image as dangling with its old tag", func() {
			_, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			old, ok := e.lineage.Image(oldImageID)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(old.Dangling()).To(gomega.BeTrue())
			gomega.Expect(old.PreviousTag).To(gomega.Equal("1.25"))

			current, ok := e.lineage.Image(newImageID)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(current.CurrentTag).To(gomega.Equal("1.25"))
			gomega.Expect(current.Digest).To(gomega.Equal(digestBBB))

			dangling, err := e.lineage.ListDangling(ctx)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(dangling).To(gomega.HaveLen(1))
		})

		ginkgo.It("reads the new digest back from the running container", func() {
			// The registry moved the tag again between pull and verify.
			e.runtime.OnCall(mocks.OpWait, func(mocks.Call) {
				raced := nginxNew
				raced.Digest = types.Digest("sha256:cccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
				e.runtime.AddImage(raced)
			})

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(string(*record.NewDigest)).To(gomega.HavePrefix("sha256:cccc"))
		})

		ginkgo.It("does not notify successes unless asked", func() {
			_, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(e.notifier.Records()).To(gomega.BeEmpty())
		})

		ginkgo.It("notifies successes when asked", func() {
			e.build(actions.ApplyOptions{NotifySuccess: true})

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(e.notifier.Records()).To(gomega.ConsistOf(record))
		})

		ginkgo.It("leaves a stopped container stopped", func() {
			stopped := e.runtime.AddContainer("batch", nginxOld, false)

			record, err := e.applicator.Apply(ctx, stopped)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusSuccess))

			c, _ := e.runtime.Container("batch")
			gomega.Expect(c.Running).To(gomega.BeFalse())
			gomega.Expect(c.Image.Digest).To(gomega.Equal(digestBBB))
			gomega.Expect(e.runtime.Ops(mocks.OpStop, mocks.OpStart, mocks.OpWait)).To(gomega.BeEmpty())
		})

		ginkgo.It("starts a stopped container when reviving is enabled", func() {
			e.build(actions.ApplyOptions{ReviveStopped: true})
			stopped := e.runtime.AddContainer("batch", nginxOld, false)

			_, err := e.applicator.Apply(ctx, stopped)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			c, _ := e.runtime.Container("batch")
			gomega.Expect(c.Running).To(gomega.BeTrue())
		})
	})

	ginkgo.When("a step before removal fails", func() {
		ginkgo.It("keeps web-1 untouched when the pull times out", func() {
			e.runtime.FailOn(mocks.OpPull, context.DeadlineExceeded)

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrPullFailed))
			gomega.Expect(err).To(gomega.MatchError(context.DeadlineExceeded))

			gomega.Expect(record.Status).To(gomega.Equal(types.StatusFailed))
			gomega.Expect(record.NewDigest).To(gomega.BeNil())
			gomega.Expect(record.ErrorMessage).NotTo(gomega.BeNil())
			gomega.Expect(*record.ErrorMessage).NotTo(gomega.BeEmpty())

			snapshot, err := e.runtime.InspectContainer(ctx, e.byName())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(snapshot.Image.Digest).To(gomega.Equal(digestAAA))
			gomega.Expect(snapshot.Container.ID).To(gomega.Equal(e.web.ID))
			gomega.Expect(snapshot.Running).To(gomega.BeTrue())

			gomega.Expect(e.runtime.Ops(mocks.OpStop, mocks.OpRemove, mocks.OpCreate)).To(gomega.BeEmpty())
			gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
			gomega.Expect(e.notifier.Records()).To(gomega.HaveLen(1))
		})

		ginkgo.It("records a snapshot failure without touching anything", func() {
			record, err := e.applicator.Apply(ctx, types.ContainerRef{Name: "ghost"})
			gomega.Expect(err).To(gomega.MatchError(actions.ErrSnapshotFailed))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusFailed))
			gomega.Expect(record.NewDigest).To(gomega.BeNil())
			gomega.Expect(record.ContainerName).To(gomega.Equal("ghost"))
			gomega.Expect(e.runtime.Ops(mocks.OpPull)).To(gomega.BeEmpty())
			gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
		})

		ginkgo.It("records a snapshot failure for an unknown id", func() {
			record, err := e.applicator.Apply(ctx, types.ContainerRef{ID: "deadbeef"})
			gomega.Expect(err).To(gomega.MatchError(actions.ErrSnapshotFailed))
			gomega.Expect(record.ContainerID).To(gomega.Equal(types.ContainerID("deadbeef")))
			gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
		})

		ginkgo.It("fails a pinned image at the pull step", func() {
			pinned := types.ImageReference{Repository: "nginx", Digest: digestAAA, ID: oldImageID}
			ref := e.runtime.AddContainer("pinned", pinned, true)

			record, err := e.applicator.Apply(ctx, ref)
			gomega.Expect(err).To(gomega.MatchError(actions.ErrPullFailed))
			gomega.Expect(err).To(gomega.MatchError(types.ErrPinnedImage))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusFailed))
		})

		ginkgo.It("surfaces a stop failure and leaves the container alone", func() {
			e.runtime.FailOn(mocks.OpStop, errors.New("container did not stop within 10s"))

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrStopFailed))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusFailed))

			c, ok := e.runtime.Container("web-1")
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(c.ID).To(gomega.Equal(e.web.ID))
			gomega.Expect(e.runtime.Ops(mocks.OpRemove, mocks.OpCreate)).To(gomega.BeEmpty())
		})

		ginkgo.It("surfaces a remove failure without recreating", func() {
			e.runtime.FailOn(mocks.OpRemove, errors.New("device or resource busy"))

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrRemoveFailed))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusFailed))
			gomega.Expect(e.runtime.Ops(mocks.OpCreate)).To(gomega.BeEmpty())
		})
	})

	ginkgo.When("the new container fails after removal", func() {
		failNewImage := func(op mocks.Op) {
			e.runtime.FailWhen(op, func(call mocks.Call) error {
				if call.Image.ID == newImageID || types.SameDigest(call.Image.Digest, digestBBB) {
					return errors.New("exec format error")
				}

				return nil
			})
		}

		ginkgo.DescribeTable("restores the old container on the old digest",
			func(op mocks.Op) {
				failNewImage(op)

				record, err := e.applicator.Apply(ctx, e.byName())
				gomega.Expect(err).To(gomega.MatchError(actions.ErrRecreateRecovered))

				gomega.Expect(record.Status).To(gomega.Equal(types.StatusRolledBack))
				gomega.Expect(record.Error()).To(gomega.ContainSubstring("exec format error"))
				gomega.Expect(record.OldDigest).To(gomega.Equal(digestAAA))

				c, ok := e.runtime.Container("web-1")
				gomega.Expect(ok).To(gomega.BeTrue())
				gomega.Expect(c.Running).To(gomega.BeTrue())
				gomega.Expect(c.Image.Digest).To(gomega.Equal(digestAAA))
				gomega.Expect(c.Env).To(gomega.ConsistOf("MODE=production"))
				gomega.Expect(c.ID).NotTo(gomega.Equal(e.web.ID))
				gomega.Expect(record.ContainerID).To(gomega.Equal(e.web.ID))

				gomega.Expect(e.runtime.TaggedImage("nginx", "1.25")).To(gomega.Equal(oldImageID))
				gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
				gomega.Expect(e.notifier.Records()).To(gomega.HaveLen(1))
			},
			ginkgo.Entry("when create fails", mocks.OpCreate),
			ginkgo.Entry("when start fails", mocks.OpStart),
			ginkgo.Entry("when the new container never becomes ready", mocks.OpWait),
		)

		ginkgo.It("recovers when the new digest cannot be read back", func() {
			inspections := 0
			e.runtime.FailWhen(mocks.OpInspect, func(call mocks.Call) error {
				inspections++
				if inspections == 2 {
					return errors.New("connection reset by peer")
				}

				return nil
			})

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrRecreateRecovered))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusRolledBack))
			gomega.Expect(e.webDigest()).To(gomega.Equal(digestAAA))
		})

		ginkgo.It("marks the rejected image as dangling after a rollback", func() {
			failNewImage(mocks.OpStart)

			_, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrRecreateRecovered))

			rejected, ok := e.lineage.Image(newImageID)
			gomega.Expect(ok).To(gomega.BeTrue())
			gomega.Expect(rejected.Dangling()).To(gomega.BeTrue())
			gomega.Expect(rejected.PreviousTag).To(gomega.Equal("1.25"))
		})

		ginkgo.It("reports the unrecoverable state when the old container cannot come back", func() {
			e.runtime.FailOn(mocks.OpCreate, errors.New("no space left on device"))

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrRecreateUnrecoverable))
			gomega.Expect(errors.Is(err, actions.ErrRecreateRecovered)).To(gomega.BeFalse())

			gomega.Expect(record.Status).To(gomega.Equal(types.StatusFailed))
			gomega.Expect(record.Error()).To(gomega.ContainSubstring("update failed"))
			gomega.Expect(record.Error()).To(gomega.ContainSubstring("recovery failed"))

			_, ok := e.runtime.Container("web-1")
			gomega.Expect(ok).To(gomega.BeFalse())
			gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
			gomega.Expect(e.notifier.Records()).To(gomega.HaveLen(1))
		})

		ginkgo.It("finishes recovery even when the caller cancels", func() {
			cancelCtx, cancel := context.WithCancel(ctx)
			e.runtime.OnCall(mocks.OpRemove, func(mocks.Call) { cancel() })
			failNewImage(mocks.OpStart)

			record, err := e.applicator.Apply(cancelCtx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrRecreateRecovered))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusRolledBack))
			gomega.Expect(e.webDigest()).To(gomega.Equal(digestAAA))
			gomega.Expect(e.history.Records()).To(gomega.HaveLen(1))
		})
	})

	ginkgo.When("the record cannot be stored", func() {
		ginkgo.It("returns a persistence error after a successful update", func() {
			e.history.AppendErr = errors.New("disk I/O error")

			record, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrPersistenceFailed))
			gomega.Expect(record.Status).To(gomega.Equal(types.StatusSuccess))
			gomega.Expect(e.history.Attempts()).To(gomega.Equal(1))
		})

		ginkgo.It("keeps the step classification next to the persistence error", func() {
			e.history.AppendErr = errors.New("disk I/O error")
			e.runtime.FailOn(mocks.OpPull, errors.New("toomanyrequests"))

			_, err := e.applicator.Apply(ctx, e.byName())
			gomega.Expect(err).To(gomega.MatchError(actions.ErrPersistenceFailed))
			gomega.Expect(err).To(gomega.MatchError(actions.ErrPullFailed))
		})
	})

	ginkgo.It("appends exactly one record per attempt whatever fails", func() {
		failures := []mocks.Op{
			"", mocks.OpInspect, mocks.OpPull, mocks.OpStop, mocks.OpRemove,
			mocks.OpCreate, mocks.OpStart, mocks.OpWait,
		}

		for _, op := range failures {
			e = newEngine(nginxNew, actions.ApplyOptions{})
			if op != "" {
				e.runtime.FailOn(op, errors.New("injected failure"))
			}

			_, _ = e.applicator.Apply(ctx, e.byName())
			gomega.Expect(e.history.Attempts()).To(gomega.Equal(1), "failing %q", op)
		}
	})

	ginkgo.It("requires a history store", func() {
		_, err := actions.NewApplicator(actions.Dependencies{Runtime: mocks.NewRuntime()}, actions.ApplyOptions{})
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
