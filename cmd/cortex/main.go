// Cortex - однократный запрос к агенту из командной строки.
//
// Находит config.yaml (флаг, текущая директория, рядом с бинарником),
// выдаёт разговору бюджет вызовов функций и печатает ответ вместе с
// журналом токенов и стоимостью.
//
// Пример:
//
//	cortex --conversation C42 --budget 5 "What's the weather in Paris?"
//	cortex --image photo.png "What is on this picture?"
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ilkoid/cortex/pkg/app"
	"github.com/ilkoid/cortex/pkg/errkind"
	"github.com/ilkoid/cortex/pkg/events"
	"github.com/ilkoid/cortex/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		if errkind.IsInsufficientBudget(err) {
			os.Exit(3)
		}
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		conversationID string
		budget         int
		stream         bool
		imagePath      string
		quiet          bool
	)

	flagSet := pflag.NewFlagSet("cortex", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config.yaml (default: ./config.yaml or next to the binary)")
	flagSet.StringVar(&conversationID, "conversation", "cli", "conversation ID: selects the budget, the cache and the agent")
	flagSet.IntVar(&budget, "budget", 0, "function call budget to grant (0 = agent.budget from config)")
	flagSet.BoolVar(&stream, "stream", false, "print the answer while it is generated")
	flagSet.StringVar(&imagePath, "image", "", "attach an image to the question")
	flagSet.BoolVarP(&quiet, "quiet", "q", false, "print only the answer")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	query := strings.TrimSpace(strings.Join(flagSet.Args(), " "))
	if query == "" {
		flagSet.Usage()
		return fmt.Errorf("question is required")
	}

	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: configPath})
	if err != nil {
		return err
	}
	if err := utils.InitLogger(cfg.App.LogFile, cfg.App.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "Logger init failed: %v\n", err)
	}

	// Rule 11: отмена по Ctrl+C доходит до цикла агента
	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	utils.Info("cortex started", "config", cfgPath, "conversation_id", conversationID)

	components, err := app.Initialize(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer components.Close()

	if err := components.AcquireBudget(ctx, conversationID, budget); err != nil {
		return err
	}

	var image []byte
	if imagePath != "" {
		if image, err = os.ReadFile(imagePath); err != nil {
			return fmt.Errorf("read image: %w", err)
		}
	}
	msg, err := components.UserMessage(conversationID, query, image)
	if err != nil {
		return err
	}

	req := app.Request{ConversationID: conversationID}
	req.Messages = append(req.Messages, msg)
	if !quiet {
		req.Reporter = events.ReporterFunc(printProgress)
	}
	if stream || cfg.Agent.Streaming {
		req.OnChunk = func(s string) { fmt.Print(s) }
	}

	result, err := components.Execute(ctx, req)
	if err != nil {
		if result != nil && !quiet {
			printLedger(result)
		}
		return err
	}

	if req.OnChunk != nil {
		fmt.Println()
	} else {
		fmt.Println(result.Response)
	}
	if !quiet {
		printLedger(result)
	}
	return nil
}
