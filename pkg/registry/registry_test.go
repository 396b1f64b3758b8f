package registry_test

import (
	"context"
	"os"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"

	"github.com/nicholas-fedor/imagekeeper/pkg/registry"
)

var _ = ginkgo.Describe("Registry", func() {
	ginkgo.Describe("GetPullOptions", func() {
		ginkgo.When("no credentials are configured", func() {
			ginkgo.It("should return anonymous pull options", func() {
				dir := ginkgo.GinkgoT().TempDir()
				gomega.Expect(os.Setenv("DOCKER_CONFIG", dir)).To(gomega.Succeed())
				ginkgo.DeferCleanup(os.Unsetenv, "DOCKER_CONFIG")

				opts, err := registry.GetPullOptions("docker.io/library/nginx:1.25")
				gomega.Expect(err).NotTo(gomega.HaveOccurred())
				gomega.Expect(opts.RegistryAuth).To(gomega.BeEmpty())
				gomega.Expect(opts.PrivilegeFunc).To(gomega.BeNil())
			})
		})
	})

	ginkgo.Describe("DefaultAuthHandler", func() {
		ginkgo.It("should retry without credentials", func() {
			auth, err := registry.DefaultAuthHandler(context.Background())
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(auth).To(gomega.BeEmpty())
		})
	})
})
