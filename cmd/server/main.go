package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "mailsync",
		Usage: "help-desk mailbox synchronization engine",
		Description: `mailsync keeps help-desk mailboxes in sync over IMAP, threads
incoming mail into conversations and moves inline media to blob storage.
`,
	}

	registerServe(app)
	registerFetch(app)
	registerReconcile(app)

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
