package registry

import (
	"encoding/base64"
	"os"
	"path/filepath"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
)

var _ = ginkgo.Describe("Registry credential helpers", func() {
	ginkgo.AfterEach(func() {
		_ = os.Unsetenv("REPO_USER")
		_ = os.Unsetenv("REPO_PASS")
		_ = os.Unsetenv("DOCKER_CONFIG")
	})

	ginkgo.Describe("EncodedEnvAuth", func() {
		ginkgo.It("should return repo credentials from env when set", func() {
			gomega.Expect(os.Setenv("REPO_USER", "keeper-user")).To(gomega.Succeed())
			gomega.Expect(os.Setenv("REPO_PASS", "keeper-pass")).To(gomega.Succeed())

			encoded, err := EncodedEnvAuth()
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			decoded, err := base64.URLEncoding.DecodeString(encoded)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(string(decoded)).To(gomega.ContainSubstring(`"username":"keeper-user"`))
			gomega.Expect(string(decoded)).To(gomega.ContainSubstring(`"password":"keeper-pass"`))
		})

		ginkgo.It("should return an error if repo envs are unset", func() {
			_, err := EncodedEnvAuth()
			gomega.Expect(err).To(gomega.HaveOccurred())
		})
	})

	ginkgo.Describe("EncodedConfigAuth", func() {
		ginkgo.It("should return stored credentials for the registry", func() {
			dir := ginkgo.GinkgoT().TempDir()
			auth := base64.StdEncoding.EncodeToString([]byte("alice:secret"))
			config := `{"auths":{"ghcr.io":{"auth":"` + auth + `"}}}`
			gomega.Expect(os.WriteFile(filepath.Join(dir, "config.json"), []byte(config), 0o600)).To(gomega.Succeed())
			gomega.Expect(os.Setenv("DOCKER_CONFIG", dir)).To(gomega.Succeed())

			encoded, err := EncodedConfigAuth("ghcr.io/org/app:1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())

			decoded, err := base64.URLEncoding.DecodeString(encoded)
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(string(decoded)).To(gomega.ContainSubstring(`"username":"alice"`))
		})

		ginkgo.It("should return nothing when no credentials are stored", func() {
			dir := ginkgo.GinkgoT().TempDir()
			gomega.Expect(os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{}`), 0o600)).To(gomega.Succeed())
			gomega.Expect(os.Setenv("DOCKER_CONFIG", dir)).To(gomega.Succeed())

			encoded, err := EncodedConfigAuth("ghcr.io/org/app:1.0")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(encoded).To(gomega.BeEmpty())
		})
	})

	ginkgo.Describe("GetPullOptions", func() {
		ginkgo.It("should attach credentials and the privilege handler", func() {
			gomega.Expect(os.Setenv("REPO_USER", "keeper-user")).To(gomega.Succeed())
			gomega.Expect(os.Setenv("REPO_PASS", "keeper-pass")).To(gomega.Succeed())

			opts, err := GetPullOptions("nginx:1.25")
			gomega.Expect(err).NotTo(gomega.HaveOccurred())
			gomega.Expect(opts.RegistryAuth).NotTo(gomega.BeEmpty())
			gomega.Expect(opts.PrivilegeFunc).NotTo(gomega.BeNil())
		})
	})
})
