package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/mdp/qrterminal/v3"

	"github.com/blockedby/tgquery/internal/config"
	"github.com/blockedby/tgquery/internal/logger"
	"github.com/blockedby/tgquery/internal/output"
	"github.com/blockedby/tgquery/internal/query"
	"github.com/blockedby/tgquery/internal/telegram"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	var (
		auth        = flag.Bool("auth", false, "run interactive login and persist the session")
		authQR      = flag.Bool("auth-qr", false, "run QR code login and persist the session")
		whoami      = flag.Bool("whoami", false, "print current account identity")
		search      = flag.String("search", "", "search chats for keyword(s)")
		chatID      = flag.String("chat-id", "", "limit search to one chat (numeric id, -100-prefixed id or @handle)")
		scrapeSaved = flag.String("scrape-saved", "", "extract Saved Messages for a date (YYYY-MM-DD)")
		sessionPath = flag.String("session", "", "override the session file path")
	)
	flag.Parse()

	// 1. Load config (TELEGRAM_API_ID / TELEGRAM_API_HASH are required;
	//    missing credentials fail here, before any network call)
	cfg, err := config.Load()
	if err != nil {
		return fail(err)
	}
	if *sessionPath != "" {
		cfg.SessionPath = *sessionPath
	}

	// 2. Initialize logger (stderr; stdout carries the JSON output)
	if err := logger.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		return fail(err)
	}
	log := logger.Get()

	// 3. Setup context with graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Info().Msg("received shutdown signal")
		cancel()
	}()

	// 4. Session manager owns the credential file for the whole invocation
	manager := telegram.NewManager(cfg)
	defer manager.Stop()

	out := output.New(os.Stdout)

	switch {
	case *auth:
		return runAuth(ctx, manager, out)
	case *authQR:
		return runAuthQR(ctx, manager, out)
	case *whoami:
		return runWhoami(ctx, manager, out)
	case *search != "":
		return runSearch(ctx, cfg, manager, out, *search, *chatID)
	case *scrapeSaved != "":
		return runScrapeSaved(ctx, cfg, manager, out, *scrapeSaved)
	default:
		flag.Usage()
		return 1
	}
}

// runAuth reuses an existing session when one is valid, otherwise prompts
// for the phone number and runs the interactive login flow.
func runAuth(ctx context.Context, manager *telegram.Manager, out *output.Formatter) int {
	if err := manager.Init(ctx); err != nil {
		return fail(err)
	}

	if manager.GetStatus() != telegram.StatusReady {
		fmt.Fprint(os.Stderr, "enter your phone number (with country code, e.g. +1234567890): ")
		reader := bufio.NewReader(os.Stdin)
		phone, _ := reader.ReadString('\n')
		phone = strings.TrimSpace(phone)

		if err := manager.StartPhone(ctx, phone); err != nil {
			return fail(err)
		}
	}

	return emitAuthConfirmation(manager, out)
}

// runAuthQR renders a login QR code on the terminal and waits for the scan.
func runAuthQR(ctx context.Context, manager *telegram.Manager, out *output.Formatter) int {
	if err := manager.Init(ctx); err != nil {
		return fail(err)
	}

	if manager.GetStatus() != telegram.StatusReady {
		err := manager.StartQR(ctx, func(url string) {
			fmt.Fprintln(os.Stderr, "scan this QR code with the Telegram app (Settings > Devices > Link Desktop Device):")
			qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stderr)
		})
		if err != nil {
			return fail(err)
		}
	}

	return emitAuthConfirmation(manager, out)
}

func emitAuthConfirmation(manager *telegram.Manager, out *output.Formatter) int {
	acc, err := manager.Self()
	if err != nil {
		return fail(err)
	}

	confirmation := output.AuthConfirmation{
		Status:      "authenticated",
		User:        output.NewIdentity(acc),
		SessionFile: manager.SessionPath(),
	}
	if err := out.Emit(confirmation); err != nil {
		return fail(err)
	}
	return 0
}

// runWhoami prints the account identity. It never prompts: an absent or
// expired session is reported as an error instructing to re-run --auth.
func runWhoami(ctx context.Context, manager *telegram.Manager, out *output.Formatter) int {
	if err := manager.Init(ctx); err != nil {
		return fail(err)
	}
	if err := manager.EnsureReady(); err != nil {
		return fail(err)
	}

	acc, err := manager.Self()
	if err != nil {
		return fail(err)
	}
	if err := out.Emit(output.NewIdentity(acc)); err != nil {
		return fail(err)
	}
	return 0
}

func runSearch(ctx context.Context, cfg *config.Config, manager *telegram.Manager, out *output.Formatter, keyword, chatID string) int {
	var chatRef *telegram.ChatRef
	if chatID != "" {
		ref, err := telegram.ParseChatRef(chatID)
		if err != nil {
			return fail(err)
		}
		chatRef = &ref
	}

	if err := manager.Init(ctx); err != nil {
		return fail(err)
	}
	if err := manager.EnsureReady(); err != nil {
		return fail(err)
	}

	engine := query.NewEngine(telegram.NewGateway(manager, cfg), cfg.SearchLimit)
	result, err := engine.Search(ctx, query.SearchQuery{Keyword: keyword, Chat: chatRef})
	if err != nil {
		return fail(err)
	}

	if err := out.Emit(result); err != nil {
		return fail(err)
	}
	return 0
}

func runScrapeSaved(ctx context.Context, cfg *config.Config, manager *telegram.Manager, out *output.Formatter, date string) int {
	// reject a malformed date before touching the network
	day, err := query.ParseDay(date)
	if err != nil {
		return fail(err)
	}

	if err := manager.Init(ctx); err != nil {
		return fail(err)
	}
	if err := manager.EnsureReady(); err != nil {
		return fail(err)
	}

	engine := query.NewEngine(telegram.NewGateway(manager, cfg), cfg.SearchLimit)
	result, err := engine.ScrapeSaved(ctx, day)
	if err != nil {
		return fail(err)
	}

	if err := out.Emit(result); err != nil {
		return fail(err)
	}
	return 0
}

// fail reports a user-visible failure as a single-line diagnostic.
// Stack traces and credential contents are never surfaced.
func fail(err error) int {
	fmt.Fprintf(os.Stderr, "tgquery: %v\n", err)
	return 1
}
