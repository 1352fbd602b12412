// Command server runs the game studio site.
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	firebase "firebase.google.com/go/v4"
	"github.com/golang/glog"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	site "github.com/jcgregorio/gamesite"
	"github.com/jcgregorio/gamesite/admin"
	"github.com/jcgregorio/gamesite/config"
	"github.com/jcgregorio/gamesite/ds"
	"github.com/jcgregorio/gamesite/email"
	"github.com/jcgregorio/gamesite/mention"
	"github.com/jcgregorio/gamesite/message"
	"github.com/jcgregorio/gamesite/post"
	"github.com/jcgregorio/gamesite/project"
	"github.com/jcgregorio/gamesite/reaction"
	"github.com/jcgregorio/gamesite/settings"
	"github.com/jcgregorio/gamesite/upload"
	"github.com/jcgregorio/gamesite/user"
)

var (
	configFile = flag.String("config", "", "Path to the YAML config file.")
	envFile    = flag.String("env", ".env", "Optional file of environment variables to load first.")
)

func verifyLoop(ctx context.Context, m *mention.Mentions, c *http.Client, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			good, spam := m.VerifyQueuedMentions(ctx, c)
			if good+spam > 0 {
				glog.Infof("Verified queued webmentions: %d good, %d spam", good, spam)
			}
		}
	}
}

func main() {
	flag.Parse()
	defer glog.Flush()

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		glog.Warningf("Failed to load %s: %s", *envFile, err)
	}
	cfg, err := config.Load(*configFile)
	if err != nil {
		glog.Exitf("Invalid config: %s", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	opts := []option.ClientOption{}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID:     cfg.Project,
		StorageBucket: cfg.Bucket,
	}, opts...)
	if err != nil {
		glog.Exitf("Failed to initialize Firebase: %s", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		glog.Exitf("Failed to create auth client: %s", err)
	}

	var d *ds.DS
	if cfg.Database == firestore.DefaultDatabaseID {
		client, err := app.Firestore(ctx)
		if err != nil {
			glog.Exitf("Failed to create Firestore client: %s", err)
		}
		d = ds.FromClient(client, cfg.Namespace)
	} else {
		d, err = ds.New(ctx, cfg.Project, cfg.Database, cfg.Namespace, opts...)
		if err != nil {
			glog.Exitf("Failed to create Firestore client: %s", err)
		}
	}
	defer func() { _ = d.Close() }()

	users := user.New(d)
	posts := post.New(d)
	mentions := mention.NewMentions(d)

	s := site.New(cfg, admin.New(authClient, users, cfg.IsAdminEmail, cfg.Hostname() != "localhost"))
	s.Projects = project.New(d)
	s.Posts = posts
	s.Reactions = reaction.New(d)
	s.Users = users
	s.Settings = settings.New(d)
	s.Messages = message.New(d)
	s.Mentions = mentions
	s.Mailer = email.New(cfg.SMTP)

	if cfg.Bucket != "" {
		sc, err := storage.NewClient(ctx, opts...)
		if err != nil {
			glog.Exitf("Failed to create storage client: %s", err)
		}
		defer func() { _ = sc.Close() }()
		s.Images = upload.New(upload.NewGCS(sc, cfg.Bucket))
	} else {
		glog.Warning("No bucket configured, image uploads are disabled.")
	}

	if cfg.VerifyInterval > 0 {
		go verifyLoop(ctx, mentions, s.Client, cfg.VerifyInterval)
	} else {
		glog.Warning("verify_interval is 0, queued webmentions will not be verified.")
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		// Live streams end when ctx is cancelled at shutdown.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	go func() {
		glog.Infof("Listening on %s as %s", srv.Addr, cfg.Host)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			glog.Exitf("Failed to serve: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("Shutting down.")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("Failed to shut down cleanly: %s", err)
	}
}
