package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/shipnotes/internal/config"
	"github.com/shipnotes/internal/pipeline"
)

// GenerateCommand returns the CLI command for a one-shot changelog run
func GenerateCommand() *cli.Command {
	return &cli.Command{
		Name:      "generate",
		Usage:     "Generate a changelog for a repository time window",
		ArgsUsage: "REPOSITORY",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "days",
				Aliases: []string{"d"},
				Usage:   "Number of days to look back",
				Value:   7,
			},
			&cli.TimestampFlag{
				Name:   "since",
				Usage:  "Window start (YYYY-MM-DD), overrides --days",
				Layout: "2006-01-02",
			},
			&cli.TimestampFlag{
				Name:   "until",
				Usage:  "Window end (YYYY-MM-DD), defaults to now",
				Layout: "2006-01-02",
			},
			&cli.StringFlag{
				Name:  "provider",
				Usage: "Override the stats provider (github, gitlab)",
			},
			&cli.StringFlag{
				Name:  "ai",
				Usage: "Override the AI provider (openai, gemini, claude, ollama)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Write the changelog to `FILE` instead of stdout",
			},
			&cli.BoolFlag{
				Name:  "skip-video",
				Usage: "Skip the highlight video render",
			},
		},
		Action: runGenerate,
	}
}

func runGenerate(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: REPOSITORY")
	}
	repo := c.Args().Get(0)

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	providerName := cfg.General.DefaultProvider
	if override := c.String("provider"); override != "" {
		providerName = override
	}
	aiName := cfg.General.DefaultAI
	if override := c.String("ai"); override != "" {
		aiName = override
	}

	ctx := context.Background()

	// The record store doubles as the render store so the artifact
	// URL from a successful render ends up on the record.
	store := pipeline.NewMemoryRecordStore()

	stack, err := buildStack(ctx, cfg, providerName, aiName, store)
	if err != nil {
		return err
	}
	if c.Bool("skip-video") {
		stack.renderer = nil
	}

	controller := stack.controller(store, cfg.Pipeline.TopCommits)

	windowEnd := time.Now()
	if until := c.Timestamp("until"); until != nil {
		windowEnd = *until
	}
	windowStart := windowEnd.AddDate(0, 0, -c.Int("days"))
	if since := c.Timestamp("since"); since != nil {
		windowStart = *since
	}

	fmt.Fprintf(os.Stderr, "Generating changelog for %s (%s to %s)\n",
		repo, windowStart.Format("2006-01-02"), windowEnd.Format("2006-01-02"))

	record, err := controller.Submit(ctx, repo, windowStart, windowEnd)
	if err != nil {
		return err
	}
	if err := controller.Run(ctx, record.ID); err != nil {
		return err
	}

	record, err = store.GetRecord(ctx, record.ID)
	if err != nil {
		return err
	}
	if record.Content == nil {
		return fmt.Errorf("generation finished without content")
	}

	if outputPath := c.String("output"); outputPath != "" {
		if err := os.WriteFile(outputPath, []byte(*record.Content), 0644); err != nil {
			return fmt.Errorf("failed to write output: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Wrote changelog to %s\n", outputPath)
	} else {
		fmt.Println(*record.Content)
	}

	if record.ArtifactURL != nil {
		fmt.Fprintf(os.Stderr, "Video artifact: %s\n", *record.ArtifactURL)
	}

	return nil
}
