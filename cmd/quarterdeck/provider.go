package main

import (
	"fmt"
	"os"

	"github.com/basket/quarterdeck/internal/config"
)

// runProviderCommand switches the configured LLM provider in config.yaml.
// The change applies on the next serve.
func runProviderCommand(args []string) int {
	if len(args) < 1 || len(args) > 2 {
		fmt.Fprintln(os.Stderr, "usage: quarterdeck provider <google|anthropic|openai|openai_compatible> [model]")
		return 2
	}
	provider := args[0]
	switch provider {
	case "google", "anthropic", "openai", "openai_compatible":
	default:
		fmt.Fprintf(os.Stderr, "unknown provider %q\n", provider)
		return 2
	}
	model := ""
	if len(args) == 2 {
		model = args[1]
	}

	home := config.HomeDir()
	if err := config.Genesis(home); err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		return 1
	}
	if err := config.SetProvider(home, provider, model); err != nil {
		fmt.Fprintf(os.Stderr, "provider: %v\n", err)
		return 1
	}
	fmt.Printf("provider set to %s; restart serve to apply\n", provider)
	return 0
}
