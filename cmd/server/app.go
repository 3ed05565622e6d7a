package main

import (
	"context"
	"fmt"

	"github.com/deskline/mailsync/internal/blob"
	"github.com/deskline/mailsync/internal/config"
	"github.com/deskline/mailsync/internal/crypto"
	"github.com/deskline/mailsync/internal/db"
	"github.com/deskline/mailsync/internal/imap"
	"github.com/deskline/mailsync/internal/ingest"
	"github.com/deskline/mailsync/internal/jobs"
	"github.com/deskline/mailsync/internal/logging"
	"github.com/deskline/mailsync/internal/media"
	"github.com/deskline/mailsync/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

// app holds the wired services shared by every subcommand.
type app struct {
	cfg       *config.Config
	pool      *pgxpool.Pool
	store     *db.Store
	encryptor *crypto.Encryptor
	gate      *imap.Gate
	fetcher   *imap.Fetcher
	creds     *ingest.CredentialResolver
	blobs     blob.Store
	fsBlobs   *blob.FSStore
	cache     *jobs.PayloadCache
	tracker   jobs.Tracker
	worker    *jobs.Worker
	repairs   *jobs.Repairs
	ingest    *ingest.Orchestrator
	redis     *redis.Client
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.NewConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := logging.Setup(cfg.LogLevel, cfg.LogFormat); err != nil {
		return nil, err
	}

	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, err
	}

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	log.Info("database_connected")

	a := &app{cfg: cfg, pool: pool, store: db.NewStore(pool), encryptor: encryptor}

	if err := a.setupBlobs(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.setupTracker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.gate = imap.NewGate(cfg.IMAPMaxConnections)
	a.fetcher = imap.NewFetcher(a.gate)
	a.creds = ingest.NewCredentialResolver(a.store, encryptor, cfg.IMAPDefaultHost, cfg.IMAPDefaultPort).
		WithInsecure(cfg.Environment == "test")
	a.cache = jobs.NewPayloadCache(0)

	extractor := media.NewExtractor(a.blobs)
	a.worker = jobs.NewWorker(a.store, extractor, a.fetcher, a.creds, a.cache, a.tracker).WithWorkers(cfg.JobWorkers)
	a.repairs = jobs.NewRepairs(a.store, a.tracker, a.worker.Notify)
	a.ingest = ingest.NewOrchestrator(a.store, a.fetcher, a.creds, a.cache, a.worker.Notify)

	if err := a.registerMailboxes(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) setupBlobs(ctx context.Context) error {
	var store blob.Store
	switch a.cfg.BlobBackend {
	case "s3":
		s3, err := blob.NewS3Store(ctx, blob.S3Config{
			Endpoint:  a.cfg.S3Endpoint,
			AccessKey: a.cfg.S3AccessKey,
			SecretKey: a.cfg.S3SecretKey,
			Bucket:    a.cfg.S3Bucket,
			UseSSL:    a.cfg.S3UseSSL,
		})
		if err != nil {
			return err
		}
		store = s3
	default:
		fs, err := blob.NewFSStore(a.cfg.BlobDir, a.cfg.BlobBaseURL)
		if err != nil {
			return err
		}
		a.fsBlobs = fs
		store = fs
	}
	a.blobs = blob.NewBreakerStore(store, "blob-"+a.cfg.BlobBackend)
	log.WithField("backend", a.cfg.BlobBackend).Info("blob_store_ready")
	return nil
}

// setupTracker shares repair state through Redis when configured so that
// several server processes coalesce repairs of the same message.
func (a *app) setupTracker(ctx context.Context) error {
	if a.cfg.RedisURL == "" {
		a.tracker = jobs.NewMemoryTracker()
		return nil
	}
	opts, err := redis.ParseURL(a.cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	a.redis = redis.NewClient(opts)
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to reach redis: %w", err)
	}
	a.tracker = jobs.NewRedisTracker(a.redis)
	log.Info("repair_tracker_redis")
	return nil
}

// registerMailboxes upserts the mailboxes listed in the config file,
// sealing their passwords.
func (a *app) registerMailboxes(ctx context.Context) error {
	for _, mc := range a.cfg.Mailboxes {
		mb, err := mailboxFromConfig(mc, a.encryptor)
		if err != nil {
			return err
		}
		if err := a.store.SaveMailbox(ctx, mb); err != nil {
			return fmt.Errorf("failed to save mailbox %s: %w", mc.ID, err)
		}
		log.WithField("mailbox", mc.ID).Info("mailbox_registered")
	}
	return nil
}

func mailboxFromConfig(mc config.MailboxConfig, enc *crypto.Encryptor) (*models.Mailbox, error) {
	sealed, err := enc.SealPassword(mc.ID, mc.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to seal password for mailbox %s: %w", mc.ID, err)
	}
	return &models.Mailbox{
		ID:                mc.ID,
		TenantID:          mc.TenantID,
		Address:           mc.Address,
		IMAPHost:          mc.Host,
		IMAPPort:          mc.Port,
		IMAPUsername:      mc.Username,
		EncryptedPassword: sealed,
		AuthMethod:        models.AuthMethod(mc.AuthMethod),
		Folder:            mc.Folder,
	}, nil
}

func (a *app) Close() {
	if a.gate != nil {
		a.gate.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	db.CloseConnection(a.pool)
}
