package main

import (
	"context"
	"errors"
	"fmt"
	nhttp "net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"go-fleet/internal/config"
	"go-fleet/internal/dispatcher"
	"go-fleet/internal/http"
	"go-fleet/internal/model"
	"go-fleet/internal/scheduler"
	"go-fleet/internal/transport"
)

type Options struct {
	Config        string        `short:"c" long:"config" description:"Fleet file with workers and command templates" required:"true"`
	Listen        string        `long:"listen" description:"API listen address" default:"localhost:8080"`
	DbDriver      string        `short:"d" long:"db-driver" description:"Job storage backend" choice:"postgres" choice:"sqlite" choice:"memory" default:"postgres"`
	DbHost        string        `short:"u" long:"db-url" description:"Database host url" default:"localhost"`
	DbPort        uint          `short:"p" long:"db-port" description:"Database port" default:"5432"`
	DbUser        string        `short:"l" long:"db-login" description:"Database user login" default:"go-fleet"`
	DbName        string        `short:"n" long:"db-name" description:"Database name" default:"go-fleet"`
	DbPath        string        `long:"db-path" description:"Database file for the sqlite backend" default:"go-fleet.db"`
	PurgeSchedule string        `long:"purge-schedule" description:"Crontab schedule for purging finished jobs, empty to keep all"`
	Retention     time.Duration `long:"retention" description:"How long finished jobs are kept" default:"720h"`
	LogLevel      string        `long:"log-level" description:"Log level" choice:"debug" choice:"info" choice:"warn" choice:"error" default:"info"`
	LogJSON       bool          `long:"log-json" description:"Log in JSON format"`
}

const serverShutdownTimeout = 30 * time.Second

func openStorage(ctx context.Context, opts Options) (model.JobStorage, error) {
	switch opts.DbDriver {
	case "memory":
		log.Warn("Using in-memory job storage, job state is lost on restart")
		return model.NewMemoryJobStorage(), nil
	case "sqlite":
		return model.NewSQLJobStorage(ctx, "sqlite", opts.DbPath)
	default:
		datasourceName := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			opts.DbHost,
			opts.DbPort,
			opts.DbUser,
			os.Getenv("POSTGRES_PASSWORD"),
			opts.DbName,
		)
		return model.NewSQLJobStorage(ctx, "postgres", datasourceName)
	}
}

func main() {
	opts := Options{}
	_, err := flags.Parse(&opts)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		log.Fatal(fmt.Errorf("could not parse command line args: %w", err))
	}
	level, _ := log.ParseLevel(opts.LogLevel)
	log.SetLevel(level)
	if opts.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	}

	fleetFile, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal(fmt.Errorf("could not load fleet file: %w", err))
	}
	registry, err := fleetFile.Registry()
	if err != nil {
		log.Fatal(fmt.Errorf("could not build worker registry: %w", err))
	}
	templates, err := fleetFile.Templates()
	if err != nil {
		log.Fatal(fmt.Errorf("could not build command templates: %w", err))
	}
	acknowledger, err := fleetFile.Acknowledger()
	if err != nil {
		log.Fatal(err)
	}

	background := context.Background()
	storage, err := openStorage(background, opts)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create job storage: %w", err))
	}
	defer storage.Close()

	jobDispatcher := dispatcher.New(
		registry,
		templates,
		storage,
		transport.NewClient(fleetFile.DispatchTimeout),
		dispatcher.Options{Token: fleetFile.SocketToken, Acknowledger: acknowledger},
	)
	server, err := http.NewJobServer(jobDispatcher, registry, templates, opts.Listen)
	if err != nil {
		log.Fatal(fmt.Errorf("could not create job server: %w", err))
	}

	var purger *scheduler.Scheduler
	if opts.PurgeSchedule != "" {
		purger, err = scheduler.New(storage, opts.PurgeSchedule, opts.Retention)
		if err != nil {
			log.Fatal(fmt.Errorf("could not create purge scheduler: %w", err))
		}
	}

	cancelCtx, cancel := context.WithCancel(background)
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	wg := sync.WaitGroup{}
	if purger != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			purger.Start(cancelCtx)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.WithFields(log.Fields{
			"addr":    opts.Listen,
			"workers": len(registry.Ids()),
			"storage": opts.DbDriver,
		}).Info("Job API started")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nhttp.ErrServerClosed) {
			log.Error(fmt.Errorf("listen and serve error: %w", err))
		}
	}()
	<-sigs
	cancel()
	timeoutCtx, timeoutCancel := context.WithTimeout(background, serverShutdownTimeout)
	defer timeoutCancel()
	if err = server.Shutdown(timeoutCtx); err != nil {
		log.Error(fmt.Errorf("failed to shutdown server: %w", err))
	}
	wg.Wait()
}
