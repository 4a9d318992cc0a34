package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"

	"github.com/alecthomas/kong"

	"rolodex/internal/contacts/importer"
	"rolodex/internal/contacts/models"
	"rolodex/internal/contacts/service"
	"rolodex/internal/contacts/store/directory"
	"rolodex/internal/contacts/store/phoneindex"
	"rolodex/internal/platform/config"
	"rolodex/internal/platform/logger"
	"rolodex/internal/platform/postgres"
	platformredis "rolodex/internal/platform/redis"
)

var version = "dev"

// CLI is the top-level command structure for contactctl.
type CLI struct {
	Version     kong.VersionFlag `help:"Show version." short:"V"`
	DatabaseURL string           `help:"Postgres directory URL." env:"DATABASE_URL"`
	RedisURL    string           `help:"Redis URL of the shared phone index." env:"REDIS_URL"`
	LogLevel    string           `help:"Log level." default:"warn" env:"LOG_LEVEL"`

	Import      ImportCmd      `cmd:"" help:"Import a CSV or XLSX file into the directory."`
	Check       CheckCmd       `cmd:"" help:"Reconcile a file against the directory without saving anything."`
	VerifyIndex VerifyIndexCmd `cmd:"" name:"verify-index" help:"Rebuild the phone index from the directory and report shared numbers."`
}

// env is what every command receives from main.
type env struct {
	cli *CLI
	cfg config.Server
	out io.Writer
	log *slog.Logger
}

// ImportCmd commits the accepted rows of a file.
type ImportCmd struct {
	File    string `arg:"" type:"existingfile" help:"CSV or XLSX file with a header row."`
	Workers int    `help:"Parallel row checks." default:"4"`
	Verbose bool   `help:"Print every row outcome, not only skips." short:"v"`
}

func (c *ImportCmd) Run(e *env) error {
	if e.cli.DatabaseURL == "" {
		return errors.New("import needs a database: set --database-url or DATABASE_URL")
	}
	return reconcileFile(e, c.File, c.Workers, c.Verbose, true)
}

// CheckCmd is a dry run. Without a database it checks the file on its own.
type CheckCmd struct {
	File    string `arg:"" type:"existingfile" help:"CSV or XLSX file with a header row."`
	Workers int    `help:"Parallel row checks." default:"4"`
	Verbose bool   `help:"Print every row outcome, not only skips." short:"v"`
}

func (c *CheckCmd) Run(e *env) error {
	return reconcileFile(e, c.File, c.Workers, c.Verbose, false)
}

// VerifyIndexCmd scans the directory and rebuilds the phone index from it. With
// a Redis URL the shared index is rebuilt too, under the directory write lock.
type VerifyIndexCmd struct{}

func (c *VerifyIndexCmd) Run(e *env) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dir, db, err := openDirectory(ctx, e)
	if err != nil {
		return err
	}
	defer closeDB(db)

	contacts, err := dir.List(ctx)
	if err != nil {
		return fmt.Errorf("list directory: %w", err)
	}

	local := phoneindex.NewInMemory()
	if err := local.Rebuild(ctx, contacts); err != nil {
		var corrupt *phoneindex.CorruptionError
		if errors.As(err, &corrupt) {
			fmt.Fprintf(e.out, "CORRUPT: %s\n", corrupt.Error())
		}
		return err
	}

	if e.cli.RedisURL != "" {
		ws, err := openWriteSide(ctx, e, e.cli.RedisURL, db)
		if err != nil {
			return err
		}
		defer ws.close()
		svc, err := service.New(dir, ws.index, service.WithLogger(e.log), service.WithWriteTx(ws.tx))
		if err != nil {
			return err
		}
		if err := svc.Prime(ctx); err != nil {
			return fmt.Errorf("rebuild shared index: %w", err)
		}
		fmt.Fprintln(e.out, "shared index rebuilt")
	}

	fmt.Fprintf(e.out, "ok: %d contacts, %d phone keys\n", len(contacts), local.Len())
	return nil
}

func reconcileFile(e *env, path string, workers int, verbose, commit bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	table, err := readTable(path)
	if err != nil {
		return err
	}

	dir, db, err := openDirectory(ctx, e)
	if err != nil {
		return err
	}
	defer closeDB(db)

	// The shared index only describes a real directory.
	redisURL := e.cli.RedisURL
	if db == nil {
		redisURL = ""
	}
	ws, err := openWriteSide(ctx, e, redisURL, db)
	if err != nil {
		return err
	}
	defer ws.close()

	svc, err := service.New(dir, ws.index,
		service.WithLogger(e.log),
		service.WithWriteTx(ws.tx),
		service.WithReconciler(importer.New(importer.WithWorkers(workers), importer.WithLogger(e.log))),
	)
	if err != nil {
		return err
	}
	if err := svc.Prime(ctx); err != nil {
		return err
	}

	run := svc.CheckImport
	if commit {
		run = svc.Import
	}
	summary, err := run(ctx, table)
	if summary != nil {
		printSummary(e.out, summary, verbose)
	}
	return err
}

func readTable(path string) (*importer.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return importer.ReadFile(path, f)
}

// openDirectory returns the Postgres directory and its pool, or an in-memory
// directory and a nil pool when no database is configured.
func openDirectory(ctx context.Context, e *env) (service.Directory, *sql.DB, error) {
	if e.cli.DatabaseURL == "" {
		return directory.NewInMemory(), nil, nil
	}
	db, err := postgres.Open(ctx, e.cli.DatabaseURL, postgres.Config{MaxOpenConns: 4})
	if err != nil {
		return nil, nil, err
	}
	return directory.NewPostgres(db), db, nil
}

func closeDB(db *sql.DB) {
	if db != nil {
		_ = db.Close()
	}
}

// writeSide is the phone index and write lock a command writes through. It
// mirrors cmd/server: the shared Redis index and lock when Redis is
// configured, else a Postgres advisory lock, else an in-process mutex.
type writeSide struct {
	index service.PhoneIndex
	tx    service.WriteTx
	close func()
}

func openWriteSide(ctx context.Context, e *env, redisURL string, db *sql.DB) (*writeSide, error) {
	if redisURL != "" {
		cfg := e.cfg.Redis
		cfg.URL = redisURL
		client, err := platformredis.New(ctx, cfg)
		if err != nil {
			return nil, err
		}
		lock := platformredis.NewLock(client.Client, client.Key(platformredis.DirectoryLockName),
			platformredis.WithLockTTL(cfg.LockTTL),
		)
		return &writeSide{
			index: phoneindex.NewRedis(client.Client, phoneindex.WithKeyPrefix(client.Prefix())),
			tx:    service.NewWriteTx(lock, e.cfg.WriteTimeout),
			close: func() { _ = client.Close() },
		}, nil
	}

	var locker service.Locker = service.NewMutexLocker()
	if db != nil {
		locker = postgres.NewAdvisoryLock(db, postgres.DirectoryLockKey)
	}
	return &writeSide{
		index: phoneindex.NewInMemory(),
		tx:    service.NewWriteTx(locker, e.cfg.WriteTimeout),
		close: func() {},
	}, nil
}

func printSummary(w io.Writer, summary *models.ImportSummary, verbose bool) {
	for _, o := range summary.Outcomes {
		if o.Accepted() {
			if verbose {
				fmt.Fprintf(w, "row %d: accepted %s\n", o.Row, o.Contact.FullName())
			}
			continue
		}
		fmt.Fprintf(w, "row %d: %s: %s\n", o.Row, o.Reason, o.Message)
	}
	fmt.Fprintln(w, summary.String())
}

func newParser(cli *CLI, out io.Writer, opts ...kong.Option) (*kong.Kong, error) {
	opts = append([]kong.Option{
		kong.Name("contactctl"),
		kong.Description("Import and audit contact directory data."),
		kong.Vars{"version": version},
		kong.Writers(out, out),
	}, opts...)
	return kong.New(cli, opts...)
}

func main() {
	cfg := config.FromEnv()

	var cli CLI
	parser, err := newParser(&cli, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(2)
	}
	kctx, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	e := &env{
		cli: &cli,
		cfg: cfg,
		out: os.Stdout,
		log: logger.NewWithWriter(os.Stderr, logger.Options{Level: cli.LogLevel, Format: "text"}),
	}
	if err := kctx.Run(e); err != nil {
		fmt.Fprintf(os.Stderr, "error: %s\n", err)
		os.Exit(1)
	}
}
