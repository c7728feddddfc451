package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/erp/inventory-core/internal/infrastructure/config"
	"github.com/erp/inventory-core/internal/infrastructure/logger"
	"github.com/erp/inventory-core/internal/infrastructure/migration"
	"github.com/erp/inventory-core/migrations"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const defaultMigrationsDir = "migrations"

var errUsage = errors.New("usage")

// session is what a command runs against. migrator is nil for commands that
// only touch files.
type session struct {
	log      *zap.Logger
	path     string
	args     []string
	migrator *migration.Migrator
}

func (s *session) arg(i int, what string) (string, error) {
	if len(s.args) <= i {
		return "", fmt.Errorf("%w: %s required", errUsage, what)
	}
	return s.args[i], nil
}

type command struct {
	usage   string
	needsDB bool
	run     func(*session) error
}

var commands = map[string]command{
	"up":      {usage: "Apply all pending migrations", needsDB: true, run: func(s *session) error { return s.migrator.Up() }},
	"down":    {usage: "Roll back all migrations", needsDB: true, run: func(s *session) error { return s.migrator.Down() }},
	"steps":   {usage: "steps <n>: apply n migrations, negative rolls back", needsDB: true, run: runSteps},
	"goto":    {usage: "goto <version>: migrate up or down to a version", needsDB: true, run: runGoto},
	"version": {usage: "Show the applied version", needsDB: true, run: runVersion},
	"force":   {usage: "force <version>: mark a version as applied without running it", needsDB: true, run: runForce},
	"create":  {usage: "create <name> [description]: write a new up/down pair", run: runCreate},
	"list":    {usage: "List available migrations", run: runList},
}

func main() {
	path := flag.String("path", "", "Read migrations from this directory instead of the embedded set")
	logLevel := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(2)
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", args[0])
		printUsage()
		os.Exit(2)
	}

	log, err := logger.New(&logger.Config{
		Level:      *logLevel,
		Format:     "console",
		Output:     "stdout",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = log.Sync()
	}()

	s := &session{log: log, args: args[1:]}
	if *path != "" {
		if s.path, err = filepath.Abs(*path); err != nil {
			log.Fatal("Invalid migrations path", zap.Error(err))
		}
	}
	log.Info("Migration CLI started", zap.String("command", args[0]), zap.String("source", sourceName(s.path)))

	if cmd.needsDB {
		closeFn, err := s.openMigrator()
		if err != nil {
			log.Fatal("Failed to prepare migrator", zap.Error(err))
		}
		defer closeFn()
	}

	if err := cmd.run(s); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "%v\n  %s\n", err, cmd.usage)
			os.Exit(2)
		}
		log.Fatal("Migration command failed", zap.String("command", args[0]), zap.Error(err))
	}
}

// openMigrator connects with the ICC_DATABASE_* settings.
func (s *session) openMigrator() (func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if s.path == "" {
		s.migrator, err = migration.New(db, migrations.FS, s.log)
	} else {
		s.migrator, err = migration.NewFromPath(db, s.path, s.log)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return func() {
		_ = s.migrator.Close()
		_ = db.Close()
	}, nil
}

func runSteps(s *session) error {
	raw, err := s.arg(0, "step count")
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid step count %q", errUsage, raw)
	}
	return s.migrator.Steps(n)
}

func runGoto(s *session) error {
	raw, err := s.arg(0, "version")
	if err != nil {
		return err
	}
	version, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q", errUsage, raw)
	}
	return s.migrator.GoTo(uint(version))
}

func runVersion(s *session) error {
	version, dirty, err := s.migrator.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		s.log.Info("No migrations applied")
		return nil
	}
	s.log.Info("Current migration version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func runForce(s *session) error {
	raw, err := s.arg(0, "version")
	if err != nil {
		return err
	}
	version, err := strconv.Atoi(raw)
	if err != nil {
		return fmt.Errorf("%w: invalid version %q", errUsage, raw)
	}
	s.log.Warn("Forcing migration version", zap.Int("version", version))
	return s.migrator.Force(version)
}

func runCreate(s *session) error {
	name, err := s.arg(0, "migration name")
	if err != nil {
		return err
	}
	description, _ := s.arg(1, "description")
	dir := s.path
	if dir == "" {
		dir = defaultMigrationsDir
	}
	mf, err := migration.CreateMigration(dir, name, description)
	if err != nil {
		return err
	}
	s.log.Info("Migration created",
		zap.String("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func runList(s *session) error {
	var (
		names []string
		err   error
	)
	if s.path == "" {
		names, err = migration.ListMigrationsFS(migrations.FS)
	} else {
		names, err = migration.ListMigrations(s.path)
	}
	if err != nil {
		return err
	}
	s.log.Info("Available migrations", zap.Int("count", len(names)))
	for _, name := range names {
		fmt.Println("  -", name)
	}
	return nil
}

func sourceName(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "Inventory core schema migrations\n\nUsage:\n  migrate [flags] <command> [arguments]\n\nCommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(os.Stderr, "  %-9s %s\n", name, commands[name].usage)
	}
	fmt.Fprintln(os.Stderr, "\nFlags:")
	flag.PrintDefaults()
	fmt.Fprintln(os.Stderr, "\nThe database is configured with ICC_DATABASE_HOST, ICC_DATABASE_PORT,\nICC_DATABASE_USER, ICC_DATABASE_PASSWORD, ICC_DATABASE_DBNAME and ICC_DATABASE_SSLMODE.")
}
