package notifications

import (
	"bytes"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"text/template"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/sirupsen/logrus"

	shoutrrrTypes "github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/nicholas-fedor/imagekeeper/pkg/notifications/templates"
	"github.com/nicholas-fedor/imagekeeper/pkg/types"
)

// LocalLog is a logrus entry for the notifier's own messages.
var LocalLog = logrus.WithField("notify", "no")

// queueSize bounds the number of rendered messages waiting to be sent.
const queueSize = 16

var (
	// errNoURLs indicates a notifier without any service URL.
	errNoURLs = errors.New("no notification URLs configured")
	// errInitSenderFailed indicates the shoutrrr sender could not be created.
	errInitSenderFailed = errors.New("failed to initialize shoutrrr sender")
	// errTemplateFailed indicates the notification template could not be used.
	errTemplateFailed = errors.New("failed to use notification template")
)

// router defines the interface for sending Shoutrrr notifications.
type router interface {
	Send(message string, params *shoutrrrTypes.Params) []error
}

// Notifier sends update records through Shoutrrr services.
//
// Messages are rendered synchronously and delivered by a background
// goroutine, so Notify never waits on a slow service.
type Notifier struct {
	urls     []string
	router   router
	template *template.Template
	params   *shoutrrrTypes.Params
	data     StaticData
	delay    time.Duration

	mu       sync.Mutex
	closed   bool
	messages chan string
	done     chan struct{}
}

var _ types.Notifier = (*Notifier)(nil)

// GetScheme extracts the scheme part of a Shoutrrr URL.
// It returns "invalid" if no scheme is found.
func GetScheme(url string) string {
	schemeEnd := strings.Index(url, ":")
	if schemeEnd <= 0 {
		return "invalid"
	}

	return url[:schemeEnd]
}

// GetNames returns the service names of the configured URLs.
func (n *Notifier) GetNames() []string {
	names := make([]string, len(n.urls))
	for i, u := range n.urls {
		names[i] = GetScheme(u)
	}

	return names
}

// GetURLs returns the configured service URLs.
func (n *Notifier) GetURLs() []string {
	return n.urls
}

// createNotifier builds a Notifier sending to urls through shoutrrr.
//
// Parameters:
//   - urls: Shoutrrr service URLs.
//   - tplString: Template text or the name of a built-in template.
//   - data: Title and host for the template and message title.
//   - stdout: Send shoutrrr's own log output to stdout instead of trace logs.
//   - delay: Pause before each send.
//
// Returns:
//   - *Notifier: Running notifier; call Close to flush it.
//   - error: Non-nil if the URLs or the template are invalid.
func createNotifier(
	urls []string,
	tplString string,
	data StaticData,
	stdout bool,
	delay time.Duration,
) (*Notifier, error) {
	if len(urls) == 0 {
		return nil, errNoURLs
	}

	var logger shoutrrrTypes.StdLogger
	if stdout {
		logger = log.New(os.Stdout, ``, 0)
	} else {
		logger = log.New(logrus.StandardLogger().WriterLevel(logrus.TraceLevel), "Shoutrrr: ", 0)
	}

	sender, err := shoutrrr.NewSender(logger, urls...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errInitSenderFailed, err)
	}

	return newWithRouter(sender, urls, tplString, data, delay)
}

// newWithRouter builds a Notifier around an existing router.
func newWithRouter(
	r router,
	urls []string,
	tplString string,
	data StaticData,
	delay time.Duration,
) (*Notifier, error) {
	tpl, err := getShoutrrrTemplate(tplString)
	if err != nil {
		return nil, err
	}

	params := &shoutrrrTypes.Params{}
	if data.Title != "" {
		params.SetTitle(data.Title)
	}

	n := &Notifier{
		urls:     urls,
		router:   r,
		template: tpl,
		params:   params,
		data:     data,
		delay:    delay,
		messages: make(chan string, queueSize),
		done:     make(chan struct{}),
	}

	go n.sendNotifications()

	return n, nil
}

// Notify renders record and queues it for delivery.
func (n *Notifier) Notify(record types.UpdateRecord) {
	msg, err := n.buildMessage(Data{StaticData: n.data, Record: record})
	if err != nil {
		LocalLog.WithError(err).Error("Failed to render notification")

		return
	}

	if msg == "" {
		LocalLog.Debug("Skipping notification due to empty message")

		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		LocalLog.WithField("attempt", record.AttemptID).Warn("Notifier closed, dropping notification")

		return
	}

	n.messages <- msg
}

// Close stops accepting messages and waits until the queued ones are sent.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()

		return
	}

	n.closed = true
	close(n.messages)
	n.mu.Unlock()

	LocalLog.Debug("Waiting for the notification goroutine to finish")

	<-n.done
}

// sendNotifications delivers queued messages until the queue is closed.
func (n *Notifier) sendNotifications() {
	defer close(n.done)

	for msg := range n.messages {
		time.Sleep(n.delay)

		errs := n.router.Send(msg, n.params)
		for i, err := range errs {
			if err == nil {
				continue
			}

			scheme := "invalid"
			if i < len(n.urls) {
				scheme = GetScheme(n.urls[i])
			}

			LocalLog.WithFields(logrus.Fields{
				"service": scheme,
				"index":   i,
			}).WithError(err).Error("Failed to send shoutrrr notification")
		}
	}
}

// buildMessage renders data with the configured template.
func (n *Notifier) buildMessage(data Data) (string, error) {
	var body bytes.Buffer

	if err := n.template.Execute(&body, data); err != nil {
		return "", fmt.Errorf("failed to execute notification template: %w", err)
	}

	return body.String(), nil
}

// getShoutrrrTemplate resolves a built-in template name or parses tplString.
// An empty string selects the default template.
func getShoutrrrTemplate(tplString string) (*template.Template, error) {
	tplBase := template.New("").Funcs(templates.Funcs)

	if tplString == "" {
		tplString = `default`
	}

	if builtin, found := commonTemplates[tplString]; found {
		logrus.WithField(`template`, tplString).Debug(`Using common template`)
		tplString = builtin
	}

	tpl, err := tplBase.Parse(tplString)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errTemplateFailed, err)
	}

	return tpl, nil
}
