package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"dimload/internal/config"
	"dimload/internal/db"
	"dimload/internal/etl"
	"dimload/internal/repository"
	"dimload/internal/source"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "dimload",
		Usage: "batch loader for a versioned customer dimension in PostgreSQL",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: ".",
				Usage: "directory containing config.yaml",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "enable verbose logging",
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			runCommand(),
			stateCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func makeLogger(debug bool) *zap.SugaredLogger {
	if debug {
		logger, _ := zap.NewDevelopment()
		return logger.Sugar()
	}
	logger, _ := zap.NewProduction()
	return logger.Sugar()
}

func initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create the dimension and audit tables",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			path, err := filepath.Abs(cfg.ETL.MigrationsPath)
			if err != nil {
				return err
			}
			if err := db.RunMigrations(cfg.Database, path); err != nil {
				return err
			}

			fmt.Println("database is up to date")
			return nil
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "load one batch file into the dimension table",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "batch file to load (.csv or .xlsx)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "load-time",
				Usage: "batch load time as RFC 3339 (defaults to now)",
			},
			&cli.StringFlag{
				Name:  "policy",
				Usage: "override the configured commit policy (batch or record)",
			},
		},
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}
			logger := makeLogger(c.Bool("debug"))
			defer func() { _ = logger.Sync() }()

			policy := cfg.ETL.CommitPolicy
			if c.IsSet("policy") {
				policy, err = etl.ParseCommitPolicy(c.String("policy"))
				if err != nil {
					return err
				}
			}

			loadTime := time.Now().UTC()
			if c.IsSet("load-time") {
				loadTime, err = time.Parse(time.RFC3339, c.String("load-time"))
				if err != nil {
					return fmt.Errorf("invalid load time: %w", err)
				}
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			fileName := c.String("file")
			file, err := os.Open(fileName)
			if err != nil {
				return fmt.Errorf("failed to open batch file: %w", err)
			}
			defer func() { _ = file.Close() }()

			reader := source.NewReader(cfg.ETL.Fields)
			batch, err := reader.Read(fileName, file)
			if err != nil {
				return err
			}

			conn, err := db.NewConnection(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			customers := repository.NewCustomerRepository(conn.Pool, cfg.ETL.Table, cfg.ETL.Fields)
			loadLog := repository.NewLoadLogRepository(conn.Pool)
			loader := etl.NewLoader(customers, loadLog, conn, cfg.ETL.Fields, policy, logger)

			summary, loadErr := loader.Load(ctx, batch, loadTime)

			out, err := json.MarshalIndent(summary, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))

			return loadErr
		},
	}
}

func stateCommand() *cli.Command {
	return &cli.Command{
		Name:  "state",
		Usage: "print every version in the dimension table",
		Action: func(c *cli.Context) error {
			cfg, err := config.Load(c.String("config"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			conn, err := db.NewConnection(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			customers := repository.NewCustomerRepository(conn.Pool, cfg.ETL.Table, cfg.ETL.Fields)
			versions, err := customers.ListVersions(ctx)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "ID\t%s", cfg.ETL.Fields.BusinessKey)
			for _, col := range cfg.ETL.Fields.AttributeColumns() {
				fmt.Fprintf(w, "\t%s", col)
			}
			fmt.Fprintln(w, "\tvalid_from\tvalid_until\tcurrent")

			for _, v := range versions {
				fmt.Fprintf(w, "%d\t%s", v.SurrogateID, v.BusinessKey)
				for _, col := range cfg.ETL.Fields.AttributeColumns() {
					fmt.Fprintf(w, "\t%s", v.Attribute(col))
				}
				until := "-"
				if v.ValidUntil != nil {
					until = v.ValidUntil.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "\t%s\t%s\t%t\n", v.ValidFrom.Format(time.RFC3339), until, v.IsCurrent)
			}
			return w.Flush()
		},
	}
}
