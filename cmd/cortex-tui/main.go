// Cortex TUI - интерактивный чат с агентом.
//
// Индикация вызовов функций приходит через events и рисуется в ленте
// чата. Esc отменяет текущий запрос, Ctrl+L показывает расход токенов.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/ilkoid/cortex/pkg/app"
	"github.com/ilkoid/cortex/pkg/tui"
	"github.com/ilkoid/cortex/pkg/utils"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath     string
		conversationID string
		budget         int
		colors         string
	)

	flagSet := pflag.NewFlagSet("cortex-tui", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to config.yaml")
	flagSet.StringVar(&conversationID, "conversation", "", "conversation ID (default: generated)")
	flagSet.IntVar(&budget, "budget", 0, "function call budget granted per message (0 = agent.budget from config)")
	flagSet.StringVar(&colors, "colors", "default", "color scheme: default, dark, light")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, cfgPath, err := app.InitializeConfig(&app.DefaultConfigPathFinder{ConfigFlag: configPath})
	if err != nil {
		return err
	}
	// В альтернативном экране лог в stderr сломает отрисовку
	logFile := cfg.App.LogFile
	if logFile == "" {
		logFile = "cortex-tui.log"
	}
	if err := utils.InitLogger(logFile, cfg.App.Debug); err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}

	ctx, shutdown := utils.SetupGracefulShutdownWithContext()
	defer shutdown()

	utils.Info("cortex-tui started", "config", cfgPath)

	components, err := app.Initialize(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}
	defer components.Close()

	if conversationID == "" {
		conversationID = fmt.Sprintf("tui-%d", os.Getpid())
	}
	// Бюджет выдаётся заново на каждое сообщение, а не на всю сессию
	if budget <= 0 {
		budget = cfg.Agent.GetDefaults().Budget
	}

	a, err := components.Agent(conversationID)
	if err != nil {
		return err
	}

	return tui.Run(ctx, components,
		tui.WithTitle(cfg.Agent.GetDefaults().Name),
		tui.WithConversation(conversationID),
		tui.WithModelName(a.Model().Name),
		tui.WithColorScheme(tui.GetColorScheme(colors)),
		tui.WithStreaming(cfg.Agent.Streaming),
		tui.WithBudget(budget),
	)
}
