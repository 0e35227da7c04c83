package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/shipnotes/internal/api"
	"github.com/shipnotes/internal/config"
	"github.com/shipnotes/internal/database"
	"github.com/shipnotes/internal/jobqueue"
	"github.com/shipnotes/internal/jobs"
	"github.com/shipnotes/internal/render"
)

// APICommand returns the CLI command for starting the API server
func APICommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "Start the Shipnotes API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server",
				Value:   8900,
			},
			&cli.StringFlag{
				Name:    "database-url",
				Usage:   "Postgres connection URL",
				EnvVars: []string{"SHIPNOTES_DATABASE_URL", "DATABASE_URL"},
			},
			&cli.BoolFlag{
				Name:  "queue",
				Usage: "Run jobs on the durable River queue instead of in-process",
			},
		},
		Action: runAPI,
	}
}

func runAPI(c *cli.Context) error {
	port := c.Int("port")
	databaseURL := c.String("database-url")

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	db, err := database.NewDB(databaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	records := api.NewRecordManager(db)

	ctx := context.Background()
	stack, err := buildStack(ctx, cfg, cfg.General.DefaultProvider, cfg.General.DefaultAI, records)
	if err != nil {
		return err
	}

	controller := stack.controller(records, cfg.Pipeline.TopCommits)

	tracker := jobs.NewTracker(jobs.NewPostgresStore(db), jobs.NewNotifier())
	dispatcher := jobs.NewDispatcher(tracker)
	api.RegisterJobHandlers(dispatcher, controller, records, stack.renderer, stack.extractor)

	var queue api.Enqueuer
	if c.Bool("queue") {
		if databaseURL == "" {
			return fmt.Errorf("--queue requires --database-url or SHIPNOTES_DATABASE_URL")
		}

		jq, err := jobqueue.NewJobQueue(databaseURL, dispatcher)
		if err != nil {
			return fmt.Errorf("failed to create job queue: %w", err)
		}
		if err := jq.Start(ctx); err != nil {
			return fmt.Errorf("failed to start job queue: %w", err)
		}
		defer jq.Stop(ctx)

		queue = jq
		fmt.Fprintln(os.Stderr, "Job queue started")
	}

	fmt.Printf("Starting Shipnotes API server on port %d...\n", port)

	server := api.NewServer(port, records, controller, dispatcher, queue)

	if cfg.Render.ArtifactDir != "" {
		artifacts, err := render.NewFileStore(cfg.Render.ArtifactDir)
		if err != nil {
			return fmt.Errorf("failed to create artifact store: %w", err)
		}
		server.WithArtifactMirror(render.NewMirror(artifacts))
	}

	return server.Start()
}
