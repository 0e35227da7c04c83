package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/shipnotes/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "shipnotes",
		Usage:   "AI-powered changelog and release video generator for GitHub and GitLab",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "shipnotes.toml",
			},
		},
		Commands: []*cli.Command{
			cmd.GenerateCommand(),
			cmd.APICommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
