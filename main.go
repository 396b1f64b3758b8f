package main

import (
	"github.com/sirupsen/logrus"

	"github.com/nicholas-fedor/imagekeeper/cmd"
)

// init sets the log level used until the flags are parsed.
func init() {
	logrus.SetLevel(logrus.InfoLevel)
}

// main is the entry point of imagekeeper; the cmd package does the rest.
func main() {
	cmd.Execute()
}
