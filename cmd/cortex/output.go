package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ilkoid/cortex/pkg/app"
	"github.com/ilkoid/cortex/pkg/events"
)

// printProgress выводит индикацию цикла агента в stderr, чтобы stdout
// оставался чистым ответом.
func printProgress(_ context.Context, message string, stage events.Stage) {
	if stage != events.StageFunctionCalling {
		return
	}
	for _, line := range strings.Split(message, "\n") {
		fmt.Fprintf(os.Stderr, "  %s\n", line)
	}
}

// printLedger печатает расход токенов и стоимость запроса.
func printLedger(r *app.ExecutionResult) {
	w := os.Stderr
	fmt.Fprintln(w, "\n=== Usage ===")
	if len(r.Calls) > 0 {
		fmt.Fprintf(w, "Calls: %s\n", strings.Join(r.Calls, ", "))
	}
	for _, model := range r.Ledger.Models() {
		fmt.Fprintf(w, "%s: prompt=%d completion=%d embedding=%d\n", model,
			r.Ledger.PromptTokens[model], r.Ledger.CompletionTokens[model], r.Ledger.EmbeddingTokens[model])
	}
	fmt.Fprintf(w, "Cost: $%.6f\n", r.Cost)
	if len(r.UnknownModels) > 0 {
		fmt.Fprintf(w, "Not priced: %s\n", strings.Join(r.UnknownModels, ", "))
	}
	if r.State != nil {
		fmt.Fprintf(w, "Conversation: %d runs, total $%.6f\n", r.State.Runs, r.State.TotalCost)
	}
	fmt.Fprintf(w, "Duration: %v\n", r.Duration)
}
