package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"text/tabwriter"

	"judgeline/internal/common/cache"
	"judgeline/internal/common/mq"
	"judgeline/internal/common/storage"
	"judgeline/internal/judge/language"
	"judgeline/internal/judge/model"
	"judgeline/internal/judge/repository"
	"judgeline/internal/leaderboard"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

func submitCommand() *cli.Command {
	return &cli.Command{
		Name:      "submit",
		Usage:     "publish a submission job",
		ArgsUsage: "<source-file>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "language", Aliases: []string{"l"}, Required: true},
			&cli.StringFlag{Name: "problem", Aliases: []string{"p"}, Required: true},
			&cli.StringFlag{Name: "user", Aliases: []string{"u"}, Required: true},
			&cli.StringFlag{Name: "contest", Aliases: []string{"c"}},
			&cli.StringFlag{Name: "id", Usage: "submission id, generated when empty"},
			&cli.StringFlag{Name: "testcases", Aliases: []string{"t"}, Usage: `JSON file of [{"input", "output"}]`, Required: true},
			&cli.IntFlag{Name: "time-limit-ms", Value: 1000},
			&cli.IntFlag{Name: "memory-mb", Value: 256},
			&cli.FloatFlag{Name: "cpus", Value: 1},
			&cli.StringFlag{Name: "topic", Value: "judge.submissions"},
			&cli.BoolFlag{Name: "upload", Usage: "store the source in object storage and send only its key"},
		},
		Action: runSubmit,
	}
}

func runSubmit(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("expected exactly one source file")
	}
	source, err := os.ReadFile(cmd.Args().First())
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}
	testcases, err := readTestcases(cmd.String("testcases"))
	if err != nil {
		return err
	}

	sub := model.Submission{
		ID:        cmd.String("id"),
		UserID:    cmd.String("user"),
		ContestID: cmd.String("contest"),
		ProblemID: cmd.String("problem"),
		Language:  cmd.String("language"),
		Testcases: testcases,
		Constraints: model.Constraints{
			TimeLimitMs:   int64(cmd.Int("time-limit-ms")),
			MemoryLimitMb: int64(cmd.Int("memory-mb")),
			CPULimit:      float64(cmd.Float("cpus")),
		},
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	if cmd.Bool("upload") {
		key, err := uploadSource(ctx, cmd, sub, source)
		if err != nil {
			return err
		}
		sub.SourceKey = key
	} else {
		sub.SourceCode = string(source)
	}
	if err := sub.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("encode submission: %w", err)
	}
	queue, err := mq.NewKafkaQueue(mq.KafkaConfig{
		Brokers:      cmd.StringSlice("brokers"),
		ClientID:     "judgectl",
		RequiredAcks: -1,
	})
	if err != nil {
		return fmt.Errorf("init kafka: %w", err)
	}
	defer func() {
		_ = queue.Close()
	}()

	msg := mq.NewMessage(sub.ID, body)
	msg.SetHeader(repository.TraceHeader, uuid.NewString())
	if err := queue.Publish(ctx, cmd.String("topic"), msg); err != nil {
		return fmt.Errorf("publish submission: %w", err)
	}
	fmt.Fprintln(cmd.Root().Writer, sub.ID)
	return nil
}

func readTestcases(file string) ([]model.Testcase, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read testcases: %w", err)
	}
	var testcases []model.Testcase
	if err := json.Unmarshal(data, &testcases); err != nil {
		return nil, fmt.Errorf("parse testcases: %w", err)
	}
	return testcases, nil
}

func uploadSource(ctx context.Context, cmd *cli.Command, sub model.Submission, source []byte) (string, error) {
	bucket := cmd.String("bucket")
	store, err := storage.NewMinIOStorage(storage.MinIOConfig{
		Endpoint:  cmd.String("minio-endpoint"),
		AccessKey: cmd.String("minio-access-key"),
		SecretKey: cmd.String("minio-secret-key"),
		Bucket:    bucket,
	})
	if err != nil {
		return "", fmt.Errorf("init minio: %w", err)
	}
	name := "source"
	if lang, err := language.NewLocalRegistry(language.Defaults()); err == nil {
		if l, err := lang.Get(sub.Language); err == nil {
			name = l.SourceFile
		}
	}
	key := path.Join(sub.ProblemID, sub.ID, name)
	if err := store.PutObject(ctx, bucket, key, bytes.NewReader(source), int64(len(source)), "text/plain"); err != nil {
		return "", fmt.Errorf("upload source: %w", err)
	}
	return key, nil
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "print the current judge status of a submission",
		ArgsUsage: "<submission-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected a submission id")
			}
			redisCache, err := openRedis(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = redisCache.Close()
			}()
			status, err := repository.NewStatusRepository(redisCache, 0).Get(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.Root().Writer)
			enc.SetIndent("", "  ")
			return enc.Encode(status)
		},
	}
}

func leaderboardCommand() *cli.Command {
	return &cli.Command{
		Name:      "leaderboard",
		Usage:     "print the top of a contest ranking",
		ArgsUsage: "<contest-id>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "n", Value: 10, Usage: "number of entries"},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected a contest id")
			}
			redisCache, err := openRedis(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = redisCache.Close()
			}()
			engine := leaderboard.NewEngine(redisCache, nil)
			entries, err := engine.TopN(ctx, cmd.Args().First(), int(cmd.Int("n")))
			if err != nil {
				return err
			}
			total, err := engine.Size(ctx, cmd.Args().First())
			if err != nil {
				return err
			}
			if err := printEntries(cmd, entries...); err != nil {
				return err
			}
			fmt.Fprintf(cmd.Root().Writer, "%d of %d ranked\n", len(entries), total)
			return nil
		},
	}
}

func rankCommand() *cli.Command {
	return &cli.Command{
		Name:      "rank",
		Usage:     "print one user's position in a contest ranking",
		ArgsUsage: "<contest-id> <user-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 2 {
				return fmt.Errorf("expected a contest id and a user id")
			}
			redisCache, err := openRedis(cmd)
			if err != nil {
				return err
			}
			defer func() {
				_ = redisCache.Close()
			}()
			entry, err := leaderboard.NewEngine(redisCache, nil).Rank(ctx, cmd.Args().Get(0), cmd.Args().Get(1))
			if err != nil {
				return err
			}
			return printEntries(cmd, entry)
		},
	}
}

func openRedis(cmd *cli.Command) (*cache.RedisCache, error) {
	cfg := cache.DefaultRedisConfig()
	cfg.Addr = cmd.String("redis")
	cfg.Password = cmd.String("redis-password")
	redisCache, err := cache.NewRedisCacheWithConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	return redisCache, nil
}

func printEntries(cmd *cli.Command, entries ...leaderboard.Entry) error {
	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER\tSCORE\tTIME(ms)")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\n", e.Rank, e.UserID, e.Score, e.TimeTakenMs)
	}
	return w.Flush()
}
