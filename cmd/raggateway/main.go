// Command raggateway serves the ask_rag and usage_stats tools in front of a
// RAG question answering service.
//
// Usage:
//
//	raggateway [serve] [--port 7860] [--config config.yaml]
//	raggateway keys generate [--count n]
//	raggateway ask --url http://localhost:7860 --key sk-... "question"
package main

import (
	"fmt"
	"os"

	"github.com/nomadai/rag-gateway/internal/cmd"
)

// Set at build time with -ldflags "-X main.Version=... -X main.BuildTime=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	cmd.Version = Version
	cmd.BuildTime = BuildTime

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "raggateway: %v\n", err)
		os.Exit(1)
	}
}
