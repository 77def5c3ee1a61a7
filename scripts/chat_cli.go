// Interactive console driver for the orchestrator. Development tool:
// talks to the service directly, no gateway in between.
//
// Usage:
//
//	go run scripts/chat_cli.go
//
// Commands: /stop, /history, /pending, /quit. Anything else is sent as a
// user turn.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"parley/internal/capabilities"
	"parley/internal/config"
	chatModels "parley/internal/domain/models/chat"
	chatSvc "parley/internal/service/chat"
	"parley/internal/service/chat/pairbuffer"
	"parley/internal/service/chat/stream"
	"parley/internal/service/chat/tools"
)

// ANSI color codes
const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
	colorBlue  = "\033[34m"
	colorGray  = "\033[90m"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%sconfiguration invalid: %v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	client, err := stream.NewClient(cfg.AnthropicAPIKey, cfg.AnthropicBaseURL, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s%v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	modelTable, err := capabilities.NewRegistry()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s%v%s\n", colorRed, err, colorReset)
		os.Exit(1)
	}

	registry := tools.NewRegistry()
	registry.Register(tools.DemoRegistration(2 * time.Second))
	buffer := pairbuffer.New(time.Duration(cfg.ToolPairTimeoutMinutes)*time.Minute, logger)
	bus := chatSvc.NewBus(logger)

	service := chatSvc.NewService(
		client,
		chatSvc.NewRequestBuilder(modelTable),
		buffer,
		registry,
		tools.NewPermissionGate(registry),
		nil, // no store in CLI mode
		bus,
		logger,
		chatSvc.Options{
			Model:             cfg.DefaultModel,
			UseThinking:       cfg.UseThinking,
			ToolUseEnabled:    cfg.ToolUseEnabled,
			UseCache:          cfg.UseCache,
			CacheTools:        cfg.CacheTools,
			CacheSystem:       cfg.CacheSystem,
			CacheMessages:     cfg.CacheMessages,
			KeepAliveInterval: time.Duration(cfg.KeepAliveMinutes) * time.Minute,
			PairTimeout:       time.Duration(cfg.ToolPairTimeoutMinutes) * time.Minute,
		},
	)
	defer service.Close()

	go renderEvents(service.Events())

	fmt.Printf("%sparley chat (%s) - /stop /history /pending /quit%s\n", colorBlue, cfg.DefaultModel, colorReset)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s> %s", colorGreen, colorReset)
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		switch line {
		case "/quit":
			return
		case "/stop":
			service.RequestStop()
		case "/pending":
			fmt.Printf("%spending tool calls: %d%s\n", colorGray, buffer.PendingUseCount(), colorReset)
		case "/history":
			for _, m := range service.History() {
				fmt.Printf("%s[%s]%s %s\n", colorBlue, m.Role, colorReset, m.FirstText())
			}
		default:
			go func(text string) {
				opts := chatSvc.SendOptions{Display: true, Persist: false}
				if err := service.SendUser(context.Background(), text, opts); err != nil {
					fmt.Printf("\n%ssend failed: %v%s\n", colorRed, err, colorReset)
				}
			}(line)
		}
	}
}

// renderEvents prints bus events as they arrive.
func renderEvents(events <-chan chatModels.Event) {
	for event := range events {
		switch event.Kind {
		case chatModels.EventContentBlockDelta:
			fmt.Print(event.Content)
		case chatModels.EventMessageStop:
			fmt.Println()
		case chatModels.EventCancelled:
			fmt.Printf("\n%s[cancelled]%s\n", colorGray, colorReset)
		case chatModels.EventError:
			fmt.Printf("\n%s[error %s] %s%s\n", colorRed, event.Tag, event.Content, colorReset)
		case chatModels.EventWarning:
			fmt.Printf("\n%s[warn] %s%s\n", colorGray, event.Content, colorReset)
		}
	}
}
