package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"reagent/internal/infra/config"
	"reagent/internal/infra/logger"
	"reagent/internal/infra/tracer"
	"reagent/internal/usecase"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "--help", "-h", "help":
			showUsage()
			return
		case "doctor":
			if err := runDoctor(); err != nil {
				fmt.Fprintf(os.Stderr, "doctor: %v\n", err)
				os.Exit(1)
			}
			return
		case "encrypt":
			if err := runEncrypt(os.Args[2:]); err != nil {
				fmt.Fprintf(os.Stderr, "encrypt: %v\n", err)
				os.Exit(1)
			}
			return
		}
		if !strings.HasPrefix(os.Args[1], "-") {
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\nRun 'reagent --help' for usage information.\n", os.Args[1])
			os.Exit(1)
		}
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func showUsage() {
	fmt.Println(`reagent - ReAct agent runtime

USAGE:
    reagent [COMMAND] [FLAGS]

COMMANDS:
    doctor              Check configuration, stores and provider health
    encrypt VALUE       Encrypt a secret for config.yaml (needs REAGENT_CONFIG_KEY)

    (no command) - Chat with the agent on stdin

FLAGS:
    -h, --help          Show this help message
    --config PATH       Config file path (default: ./config.yaml)
    --user ID           User the token budget is charged to (default: $USER)

CHAT COMMANDS:
    /new                Start a new conversation
    /state              Show the current conversation state
    /budget             Show the token budget
    /report [DAYS]      Usage report for the last DAYS days (default 30)
    /health             Check every LLM provider
    /end                Complete the current conversation
    /quit               Exit

CONFIGURATION:
    Config file: ./config.yaml
    Environment: REAGENT_* variables override config`)
}

// flagValue returns the value of --name from os.Args.
func flagValue(name string) string {
	for i, arg := range os.Args {
		if arg == "--"+name && i+1 < len(os.Args) {
			return os.Args[i+1]
		}
		if v, ok := strings.CutPrefix(arg, "--"+name+"="); ok {
			return v
		}
	}
	return ""
}

func configPath() string {
	if p := flagValue("config"); p != "" {
		return p
	}
	if p := os.Getenv("REAGENT_CONFIG"); p != "" {
		return p
	}
	return "config.yaml"
}

func userID() string {
	if u := flagValue("user"); u != "" {
		return u
	}
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "local"
}

func run() error {
	// 1. Config
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	// 2. Logger & Tracer
	log, logCloser, err := logger.New(cfg.Logger)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	defer logCloser()

	ctx := context.Background()
	tracerShutdown, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer tracerShutdown(ctx)

	// 3. Graceful shutdown
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// 4. Stores
	stores, err := initStores(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("stores: %w", err)
	}
	defer stores.Close()

	// 5. LLM gateway
	gateway, err := initLLM(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("llm: %w", err)
	}

	// 6. Engine
	console := newConsole(os.Stdout)
	rt, err := initAgent(cfg, gateway, stores, log, console.async)
	if err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	defer rt.Engine.Close()

	// 7. Janitor
	janitor := usecase.NewJanitor(usecase.JanitorDeps{
		ShortTerm: stores.ShortTerm,
		LongTerm:  stores.LongTerm,
		States:    rt.States,
		Ledger:    rt.Ledger,
		Mailbox:   rt.Mailbox,
		Idle:      cfg.Memory.ShortTerm.TTL,
		Logger:    logger.Component(log, "janitor"),
	})
	if err := janitor.Start(ctx, cfg.Memory.CleanupSchedule); err != nil {
		return fmt.Errorf("janitor: %w", err)
	}
	defer janitor.Stop()

	log.Info("reagent starting",
		"provider", gateway.DefaultProvider(),
		"providers", len(gateway.AvailableProviders()),
		"tools", len(rt.Tools.AvailableTools()),
		"short_term", cfg.Memory.ShortTerm.Driver,
		"ledger", cfg.Ledger.Driver,
	)

	r := &repl{
		engine:  rt.Engine,
		ledger:  rt.Ledger,
		health:  gateway,
		agent:   agentContext(cfg, gateway.DefaultProvider(), userID()),
		console: console,
	}
	return r.Run(ctx, os.Stdin)
}

// runEncrypt prints the enc: form of a secret for use in config.yaml.
func runEncrypt(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: reagent encrypt VALUE")
	}
	passphrase := os.Getenv("REAGENT_CONFIG_KEY")
	if passphrase == "" {
		return fmt.Errorf("REAGENT_CONFIG_KEY is not set")
	}
	enc, err := config.EncryptValue(args[0], passphrase)
	if err != nil {
		return err
	}
	fmt.Println("enc:" + enc)
	return nil
}
