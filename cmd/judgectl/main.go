// Command judgectl submits jobs to the judge pipeline and inspects its
// results from the command line.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "judgectl: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "judgectl",
		Usage: "submit jobs and read verdicts and leaderboards",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "brokers",
				Usage:   "kafka broker addresses",
				Value:   []string{"127.0.0.1:9092"},
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.StringFlag{
				Name:    "redis",
				Usage:   "redis address",
				Value:   "127.0.0.1:6379",
				Sources: cli.EnvVars("REDIS_ADDR"),
			},
			&cli.StringFlag{
				Name:    "redis-password",
				Sources: cli.EnvVars("REDIS_PASSWORD"),
			},
			&cli.StringFlag{
				Name:    "minio-endpoint",
				Value:   "127.0.0.1:9000",
				Sources: cli.EnvVars("MINIO_ENDPOINT"),
			},
			&cli.StringFlag{
				Name:    "minio-access-key",
				Sources: cli.EnvVars("MINIO_ACCESS_KEY"),
			},
			&cli.StringFlag{
				Name:    "minio-secret-key",
				Sources: cli.EnvVars("MINIO_SECRET_KEY"),
			},
			&cli.StringFlag{
				Name:  "bucket",
				Usage: "bucket holding uploaded sources",
				Value: "submissions",
			},
		},
		Commands: []*cli.Command{
			submitCommand(),
			statusCommand(),
			leaderboardCommand(),
			rankCommand(),
		},
	}
}
