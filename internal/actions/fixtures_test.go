package actions_test

import (
	"strings"

	"github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/nicholas-fedor/imagekeeper/internal/actions"
	"github.com/nicholas-fedor/imagekeeper/internal/actions/mocks"
	"github.com/nicholas-fedor/imagekeeper/pkg/metrics"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

const (
	digestAAA = types.Digest("sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	digestBBB = types.Digest("sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")

	oldImageID = types.ImageID("sha256:1111111111111111111111111111111111111111111111111111111111111111")
	newImageID = types.ImageID("sha256:2222222222222222222222222222222222222222222222222222222222222222")
)

var (
	nginxOld = types.ImageReference{Repository: "nginx", Tag: "1.25", Digest: digestAAA, ID: oldImageID}
	nginxNew = types.ImageReference{Repository: "nginx", Tag: "1.25", Digest: digestBBB, ID: newImageID}
)

// engine bundles a fake runtime, fake stores and the engine under test.
type engine struct {
	runtime    *mocks.Runtime
	history    *mocks.HistoryStore
	lineage    *mocks.LineageStore
	notifier   *mocks.Notifier
	deps       actions.Dependencies
	detector   *actions.Detector
	applicator *actions.Applicator
	web        types.ContainerRef
}

// newEngine creates web-1 running nginx:1.25 at AAA while the registry serves
// remote for the same tag.
func newEngine(remote types.ImageReference, opts actions.ApplyOptions) *engine {
	e := &engine{
		runtime:  mocks.NewRuntime(),
		history:  mocks.NewHistoryStore(),
		lineage:  mocks.NewLineageStore(),
		notifier: &mocks.Notifier{},
	}

	e.runtime.AddImage(nginxOld)
	e.runtime.PublishImage(remote)
	e.web = e.runtime.AddContainer("web-1", nginxOld, true)

	m, err := metrics.NewWithRegistry(prometheus.NewRegistry())
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	e.deps = actions.Dependencies{
		Runtime:  e.runtime,
		History:  e.history,
		Lineage:  e.lineage,
		Notifier: e.notifier,
		Locks:    actions.NewLocks(),
		Metrics:  m,
	}

	e.build(opts)

	return e
}

// build recreates the detector and applicator from the current deps.
func (e *engine) build(opts actions.ApplyOptions) {
	var err error

	e.detector, err = actions.NewDetector(e.deps)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())

	e.applicator, err = actions.NewApplicator(e.deps, opts)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
}

// byName addresses web-1 by name only.
func (e *engine) byName() types.ContainerRef {
	return types.ContainerRef{Name: e.web.Name}
}

// webDigest returns the digest web-1 currently runs.
func (e *engine) webDigest() types.Digest {
	c, ok := e.runtime.Container("web-1")
	gomega.Expect(ok).To(gomega.BeTrue(), "web-1 should exist")

	return c.Image.Digest
}

func upper(d types.Digest) types.Digest {
	return types.Digest(strings.ToUpper(string(d)))
}
