package notifications

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/onsi/ginkgo/v2"
	"github.com/onsi/gomega"
	"github.com/spf13/cobra"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// recordingRouter captures sent messages.
type recordingRouter struct {
	mu       sync.Mutex
	messages []string
	titles   []string
	errs     []error
}

func (r *recordingRouter) Send(message string, params *shoutrrrTypes.Params) []error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.messages = append(r.messages, message)

	if params != nil {
		title, _ := params.Title()
		r.titles = append(r.titles, title)
	}

	return r.errs
}

func (r *recordingRouter) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.messages...)
}

func failedRecord() types.UpdateRecord {
	message := "failed to pull image: context deadline exceeded"

	return types.UpdateRecord{
		ID:            7,
		AttemptID:     "5f2d6f1e-7f4c-4bd5-9a0a-0d6c8a1b2c3d",
		ContainerID:   "0123456789abcdef",
		ContainerName: "web-1",
		OldImage:      "nginx:1.25",
		NewImage:      "nginx:1.25",
		OldDigest:     "sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		Status:        types.StatusFailed,
		ErrorMessage:  &message,
		StartedAt:     time.Date(2026, 10, 16, 8, 0, 0, 0, time.UTC),
		UpdatedAt:     time.Date(2026, 10, 16, 8, 0, 5, 0, time.UTC),
	}
}

func successRecord() types.UpdateRecord {
	record := failedRecord()
	newDigest := types.Digest("sha256:bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	record.Status = types.StatusSuccess
	record.ErrorMessage = nil
	record.NewDigest = &newDigest

	return record
}

var _ = ginkgo.Describe("the shoutrrr notifier", func() {
	var router *recordingRouter

	ginkgo.BeforeEach(func() {
		router = &recordingRouter{}
	})

	newNotifier := func(tpl string) *Notifier {
		n, err := newWithRouter(router, []string{"logger://"}, tpl, StaticData{Title: "imagekeeper update on host", Host: "host"}, 0)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		return n
	}

	ginkgo.It("renders a failed record with the default template", func() {
		n := newNotifier("")
		n.Notify(failedRecord())
		n.Close()

		gomega.Expect(router.Messages()).To(gomega.Equal([]string{
			"web-1 (nginx:1.25): FAILED\nError: failed to pull image: context deadline exceeded",
		}))
		gomega.Expect(router.titles).To(gomega.ConsistOf("imagekeeper update on host"))
	})

	ginkgo.It("renders the digest change of a successful record", func() {
		n := newNotifier("default")
		n.Notify(successRecord())
		n.Close()

		gomega.Expect(router.Messages()).To(gomega.Equal([]string{
			"web-1 (nginx:1.25): SUCCESS aaaaaaaaaaaa -> bbbbbbbbbbbb",
		}))
	})

	ginkgo.It("renders the porcelain template", func() {
		n := newNotifier("porcelain.v1")
		n.Notify(failedRecord())
		n.Close()

		gomega.Expect(router.Messages()).To(gomega.ConsistOf(
			"web-1 failed sha256:aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa -",
		))
	})

	ginkgo.It("renders the json template", func() {
		n := newNotifier("json.v1")
		n.Notify(successRecord())
		n.Close()

		messages := router.Messages()
		gomega.Expect(messages).To(gomega.HaveLen(1))

		var decoded map[string]any
		gomega.Expect(json.Unmarshal([]byte(messages[0]), &decoded)).To(gomega.Succeed())
		gomega.Expect(decoded).To(gomega.HaveKeyWithValue("host", "host"))

		record, ok := decoded["record"].(map[string]any)
		gomega.Expect(ok).To(gomega.BeTrue())
		gomega.Expect(record).To(gomega.HaveKeyWithValue("status", "success"))
		gomega.Expect(record).To(gomega.HaveKeyWithValue("container_name", "web-1"))
		gomega.Expect(record).To(gomega.HaveKeyWithValue("error_message", gomega.BeNil()))
		gomega.Expect(record["new_digest"]).To(gomega.HavePrefix("sha256:bbbb"))
	})

	ginkgo.It("accepts a custom template", func() {
		n := newNotifier(`{{.Record.ContainerName | ToUpper}} on {{.Host}}`)
		n.Notify(failedRecord())
		n.Close()

		gomega.Expect(router.Messages()).To(gomega.ConsistOf("WEB-1 on host"))
	})

	ginkgo.It("skips empty messages", func() {
		n := newNotifier(`{{if .Record.NewDigest}}changed{{end}}`)
		n.Notify(failedRecord())
		n.Close()

		gomega.Expect(router.Messages()).To(gomega.BeEmpty())
	})

	ginkgo.It("rejects an invalid template", func() {
		_, err := newWithRouter(router, nil, "{{.Record", StaticData{}, 0)
		gomega.Expect(err).To(gomega.MatchError(errTemplateFailed))
	})

	ginkgo.It("keeps running when a service fails", func() {
		router.errs = []error{errors.New("connection refused")}

		n := newNotifier("")
		n.Notify(failedRecord())
		n.Notify(failedRecord())
		n.Close()

		gomega.Expect(router.Messages()).To(gomega.HaveLen(2))
	})

	ginkgo.It("drops notifications after close", func() {
		n := newNotifier("")
		n.Close()
		n.Close()
		n.Notify(failedRecord())

		gomega.Expect(router.Messages()).To(gomega.BeEmpty())
	})

	ginkgo.It("needs at least one URL", func() {
		_, err := createNotifier(nil, "", StaticData{}, false, 0)
		gomega.Expect(err).To(gomega.MatchError(errNoURLs))
	})

	ginkgo.It("rejects unknown services", func() {
		_, err := createNotifier([]string{"nosuchservice://token"}, "", StaticData{}, false, 0)
		gomega.Expect(err).To(gomega.MatchError(errInitSenderFailed))
	})

	ginkgo.It("names the configured services", func() {
		n, err := createNotifier([]string{"logger://"}, "", StaticData{}, false, 0)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		defer n.Close()

		gomega.Expect(n.GetNames()).To(gomega.Equal([]string{"logger"}))
		gomega.Expect(n.GetURLs()).To(gomega.Equal([]string{"logger://"}))
		gomega.Expect(GetScheme("no-scheme")).To(gomega.Equal("invalid"))
	})
})

var _ = ginkgo.Describe("notifier configuration", func() {
	newCommand := func(args ...string) *cobra.Command {
		cmd := &cobra.Command{}
		flags := cmd.PersistentFlags()
		flags.StringArray("notification-url", nil, "")
		flags.String("notification-template", "", "")
		flags.String("notification-title-tag", "", "")
		flags.String("notifications-hostname", "", "")
		flags.Int("notifications-delay", 0, "")
		flags.Bool("notification-log-stdout", false, "")
		gomega.Expect(flags.Parse(args)).To(gomega.Succeed())

		return cmd
	}

	ginkgo.It("returns no notifier without URLs", func() {
		n, err := NewNotifier(newCommand())
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(n).To(gomega.BeNil())
	})

	ginkgo.It("builds a notifier from flags", func() {
		n, err := NewNotifier(newCommand("--notification-url", "logger://", "--notification-title-tag", "prod"))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(n).NotTo(gomega.BeNil())
		defer n.Close()

		gomega.Expect(n.data.Title).To(gomega.HavePrefix("[prod] imagekeeper update on "))
	})

	ginkgo.It("formats titles", func() {
		gomega.Expect(GetTitle("", "")).To(gomega.Equal("imagekeeper update"))
		gomega.Expect(GetTitle("docker-01", "")).To(gomega.Equal("imagekeeper update on docker-01"))
		gomega.Expect(GetTitle("docker-01", "prod")).To(gomega.Equal("[prod] imagekeeper update on docker-01"))
	})

	ginkgo.It("uses the configured hostname", func() {
		data := GetTemplateData(newCommand("--notifications-hostname", "docker-01"))
		gomega.Expect(data.Host).To(gomega.Equal("docker-01"))
		gomega.Expect(data.Title).To(gomega.Equal("imagekeeper update on docker-01"))
	})
})
