package notifications

import (
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewNotifier creates a Notifier from the command's notification flags.
//
// Parameters:
//   - c: Command carrying the notification flags.
//
// Returns:
//   - *Notifier: Running notifier, or nil when no URL is configured.
//   - error: Non-nil if a URL or the template is invalid.
func NewNotifier(c *cobra.Command) (*Notifier, error) {
	flag := c.PersistentFlags()

	urls, _ := flag.GetStringArray("notification-url")
	if len(urls) == 0 {
		logrus.Debug("No notification URLs configured")

		return nil, nil //nolint:nilnil
	}

	tplString, _ := flag.GetString("notification-template")
	stdout, _ := flag.GetBool("notification-log-stdout")
	delaySeconds, _ := flag.GetInt("notifications-delay")
	data := GetTemplateData(c)
	delay := time.Duration(delaySeconds) * time.Second

	logrus.WithFields(logrus.Fields{
		"services": len(urls),
		"template": tplString,
		"stdout":   stdout,
		"delay":    delay,
		"hostname": data.Host,
		"title":    data.Title,
	}).Debug("Creating notifier with configuration")

	return createNotifier(urls, tplString, data, stdout, delay)
}

// GetTitle formats the title based on the passed hostname and tag.
func GetTitle(hostname string, tag string) string {
	titleBuilder := strings.Builder{}
	if tag != "" {
		titleBuilder.WriteRune('[')
		titleBuilder.WriteString(tag)
		titleBuilder.WriteRune(']')
		titleBuilder.WriteRune(' ')
	}

	titleBuilder.WriteString("imagekeeper update")

	if hostname != "" {
		titleBuilder.WriteString(" on ")
		titleBuilder.WriteString(hostname)
	}

	return titleBuilder.String()
}

// GetTemplateData populates the static notification data from flags.
func GetTemplateData(c *cobra.Command) StaticData {
	flag := c.PersistentFlags()

	hostname, _ := flag.GetString("notifications-hostname")
	if hostname == "" {
		hostname, _ = os.Hostname()
	}

	tag, _ := flag.GetString("notification-title-tag")

	return StaticData{
		Host:  hostname,
		Title: GetTitle(hostname, tag),
	}
}
