package main

import (
	"encoding/json"
	"os"

	"github.com/deskline/mailsync/internal/imap"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

func registerFetch(app *cli.App) {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "fetch",
		Usage: "Run one fetch pass for a mailbox and process its media",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mailbox", Usage: "mailbox id", Required: true},
			&cli.StringFlag{Name: "mode", Usage: "unread, latest or recent", Value: string(imap.ModeUnread)},
			&cli.IntFlag{Name: "limit", Usage: "maximum messages to fetch (0 = mode default)"},
		},
		Action: fetch,
	})
}

func fetch(c *cli.Context) error {
	mode, err := imap.ParseFetchMode(c.String("mode"))
	if err != nil {
		return err
	}

	ctx := c.Context
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.ingest.Sync(ctx, c.String("mailbox"), mode, c.Int("limit"))
	if err != nil {
		return err
	}

	// Drain the media jobs this pass queued before exiting.
	drained := 0
	for {
		worked, err := a.worker.RunOnce(ctx)
		if err != nil {
			return err
		}
		if !worked {
			break
		}
		drained++
	}
	log.WithField("jobs", drained).Info("media_jobs_drained")

	return json.NewEncoder(os.Stdout).Encode(res)
}

func registerReconcile(app *cli.App) {
	app.Commands = append(app.Commands, &cli.Command{
		Name:  "reconcile",
		Usage: "Delete stored messages that are no longer on the server",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "mailbox", Usage: "mailbox id", Required: true},
		},
		Action: reconcile,
	})
}

func reconcile(c *cli.Context) error {
	ctx := c.Context
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.ingest.Reconcile(ctx, c.String("mailbox"))
	if err != nil {
		return err
	}
	log.WithFields(log.Fields{"mailbox": c.String("mailbox"), "deleted": n}).Info("reconcile_done")
	return nil
}
