package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/paysync/internal/config"
	"github.com/dvloznov/paysync/internal/kvstore"
	"github.com/dvloznov/paysync/internal/logger"
)

func main() {
	log := logger.New()

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	switch os.Args[1] {
	case "status":
		runStatus(cfg, log)
	case "send":
		runSend(cfg, log)
	case "retry":
		runAction(cfg, log, "retry", http.MethodPost, "/api/queue/retry", "Drain triggered")
	case "resume":
		runAction(cfg, log, "resume", http.MethodPost, "/api/resume", "Drain triggered")
	case "requeue":
		runByID(cfg, log, "requeue", http.MethodPost, "/api/queue/%s/requeue", "Requeued %s")
	case "remove":
		runByID(cfg, log, "remove", http.MethodDelete, "/api/queue/%s", "Removed %s")
	case "clear":
		runAction(cfg, log, "clear", http.MethodDelete, "/api/queue", "Queue cleared")
	case "login":
		runLogin(cfg, log)
	case "connectivity":
		runConnectivity(cfg, log)
	case "trackers":
		runTrackers(cfg, log)
	case "untrack":
		runByID(cfg, log, "untrack", http.MethodDelete, "/api/trackers/%s", "Stopped tracking %s")
	case "history":
		runHistory(cfg, log)
	case "migrate":
		runMigrate(cfg, log)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println("Paysync queue control")
	fmt.Println("\nUsage:")
	fmt.Println("  queuectl <command> [options]")
	fmt.Println("\nCommands:")
	fmt.Println("  status        Show queued and abandoned payments")
	fmt.Println("  send          Submit a payment (queued when offline)")
	fmt.Println("  retry         Drain the queue now")
	fmt.Println("  resume        Resume draining after signing in again")
	fmt.Println("  requeue       Give an abandoned payment a fresh retry budget")
	fmt.Println("  remove        Delete a payment from the queue")
	fmt.Println("  clear         Delete every queued and abandoned payment")
	fmt.Println("  login         Store a new session token")
	fmt.Println("  connectivity  Show backend reachability")
	fmt.Println("  trackers      Show payments being polled for status")
	fmt.Println("  untrack       Stop polling a payment")
	fmt.Println("  history       Show recorded submission history")
	fmt.Println("  migrate       Copy the queue between storage backends (daemon stopped)")
	fmt.Println("  help          Show this help message")
	fmt.Println("\nRun 'queuectl <command> -h' for more information on a command.")
}

// commandFlags returns a flag set with the options every API command shares.
func commandFlags(name string, cfg config.Config) (*flag.FlagSet, *string, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	addr := fs.String("addr", cfg.HTTPAddr, "paysyncd control API address")
	key := fs.String("key", cfg.ControlKey, "control API key")
	return fs, addr, key
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Minute)
}

func runStatus(cfg config.Config, log zerolog.Logger) {
	fs, addr, key := commandFlags("status", cfg)
	fs.Parse(os.Args[2:])

	ctx, cancel := commandContext()
	defer cancel()

	if err := printQueue(ctx, newControlClient(*addr, *key), os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Failed to read queue")
	}
}

func runSend(cfg config.Config, log zerolog.Logger) {
	fs, addr, key := commandFlags("send", cfg)
	to := fs.String("to", "", "recipient phone number or handle")
	amount := fs.String("amount", "", "amount to send")
	description := fs.String("description", "", "optional note")
	fs.Parse(os.Args[2:])

	if *to == "" || *amount == "" {
		log.Fatal().Msg("Usage: queuectl send -to HANDLE -amount AMOUNT [-description TEXT]")
	}

	ctx, cancel := commandContext()
	defer cancel()

	if err := sendPayment(ctx, newControlClient(*addr, *key), os.Stdout, *to, *amount, *description); err != nil {
		log.Fatal().Err(err).Msg("Send failed")
	}
}

func runAction(cfg config.Config, log zerolog.Logger, name, method, path, done string) {
	fs, addr, key := commandFlags(name, cfg)
	fs.Parse(os.Args[2:])

	ctx, cancel := commandContext()
	defer cancel()

	if err := newControlClient(*addr, *key).do(ctx, method, path, nil, nil); err != nil {
		log.Fatal().Err(err).Msgf("%s failed", name)
	}
	fmt.Println(done)
}

func runByID(cfg config.Config, log zerolog.Logger, name, method, pathFormat, doneFormat string) {
	fs, addr, key := commandFlags(name, cfg)
	id := fs.String("id", "", "transaction id or reference")
	fs.Parse(os.Args[2:])

	if *id == "" {
		log.Fatal().Msgf("Error: --id is required for %s", name)
	}

	ctx, cancel := commandContext()
	defer cancel()

	path := fmt.Sprintf(pathFormat, *id)
	if err := newControlClient(*addr, *key).do(ctx, method, path, nil, nil); err != nil {
		log.Fatal().Err(err).Str("id", *id).Msgf("%s failed", name)
	}
	fmt.Printf(doneFormat+"\n", *id)
}

func runLogin(cfg config.Config, log zerolog.Logger) {
	fs, addr, key := commandFlags("login", cfg)
	token := fs.String("token", os.Getenv("PAYSYNC_AUTH_TOKEN"), "backend session token")
	fs.Parse(os.Args[2:])

	if *token == "" {
		log.Fatal().Msg("Error: --token is required")
	}

	ctx, cancel := commandContext()
	defer cancel()

	body := map[string]string{"token": *token}
	if err := newControlClient(*addr, *key).do(ctx, http.MethodPut, "/api/session", body, nil); err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}
	fmt.Println("Session token stored, draining resumed")
}

func runConnectivity(cfg config.Config, log zerolog.Logger) {
	fs, addr, key := commandFlags("connectivity", cfg)
	refresh := fs.Bool("refresh", false, "probe the backend before answering")
	fs.Parse(os.Args[2:])

	ctx, cancel := commandContext()
	defer cancel()

	if err := printConnectivity(ctx, newControlClient(*addr, *key), os.Stdout, *refresh); err != nil {
		log.Fatal().Err(err).Msg("Failed to read connectivity")
	}
}

func runTrackers(cfg config.Config, log zerolog.Logger) {
	fs, addr, key := commandFlags("trackers", cfg)
	fs.Parse(os.Args[2:])

	ctx, cancel := commandContext()
	defer cancel()

	if err := printTrackers(ctx, newControlClient(*addr, *key), os.Stdout); err != nil {
		log.Fatal().Err(err).Msg("Failed to list trackers")
	}
}

func runHistory(cfg config.Config, log zerolog.Logger) {
	fs, addr, key := commandFlags("history", cfg)
	limit := fs.Int("limit", 20, "number of events to show")
	fs.Parse(os.Args[2:])

	ctx, cancel := commandContext()
	defer cancel()

	if err := printHistory(ctx, newControlClient(*addr, *key), os.Stdout, *limit); err != nil {
		log.Fatal().Err(err).Msg("Failed to list history")
	}
}

func runMigrate(cfg config.Config, log zerolog.Logger) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	from := fs.String("from", cfg.Storage, "source backend: file, gcs or postgres")
	to := fs.String("to", "", "destination backend: file, gcs or postgres")
	fromDir := fs.String("from-dir", cfg.DataDir, "source directory for file storage")
	toDir := fs.String("to-dir", cfg.DataDir, "destination directory for file storage")
	force := fs.Bool("force", false, "overwrite a non-empty destination queue")
	fs.Parse(os.Args[2:])

	if *to == "" || *to == *from && *fromDir == *toDir {
		log.Fatal().Msg("Usage: queuectl migrate -from BACKEND -to BACKEND [-force]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	srcCfg, dstCfg := cfg, cfg
	srcCfg.Storage, srcCfg.DataDir = *from, *fromDir
	dstCfg.Storage, dstCfg.DataDir = *to, *toDir
	for _, c := range []config.Config{srcCfg, dstCfg} {
		if err := c.Validate(); err != nil {
			log.Fatal().Err(err).Str("storage", c.Storage).Msg("Invalid storage configuration")
		}
	}

	src, closeSrc, err := kvstore.Open(ctx, srcCfg)
	if err != nil {
		log.Fatal().Err(err).Str("storage", *from).Msg("Failed to open source storage")
	}
	defer closeSrc()

	dst, closeDst, err := kvstore.Open(ctx, dstCfg)
	if err != nil {
		log.Fatal().Err(err).Str("storage", *to).Msg("Failed to open destination storage")
	}
	defer closeDst()

	n, err := migrateStorage(ctx, src, dst, *force, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	fmt.Printf("Migrated %d queued transactions from %s to %s\n", n, *from, *to)
}
