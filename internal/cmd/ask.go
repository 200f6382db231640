package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/nomadai/rag-gateway/internal/models"
	"github.com/spf13/cobra"
)

// EnvClientKey is read by "ask" when --key is not given
const EnvClientKey = "RAG_GATEWAY_KEY"

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a running gateway a question through the ask_rag tool",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		url, _ := cmd.Flags().GetString("url")
		key, _ := cmd.Flags().GetString("key")
		timeout, _ := cmd.Flags().GetDuration("timeout")
		if key == "" {
			key = os.Getenv(EnvClientKey)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		answer, err := askGateway(ctx, url, key, strings.Join(args, " "))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), answer)
		return nil
	},
}

func init() {
	askCmd.Flags().String("url", "http://localhost:7860", "gateway base URL")
	askCmd.Flags().String("key", "", "API key (default $"+EnvClientKey+")")
	askCmd.Flags().Duration("timeout", 90*time.Second, "request timeout")
	rootCmd.AddCommand(askCmd)
}

// askGateway calls POST /tools/ask_rag and returns the tool result text
func askGateway(ctx context.Context, baseURL, key, question string) (string, error) {
	var (
		result  models.ToolResult
		failure models.ErrorResponse
	)

	resp, err := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		R().
		SetContext(ctx).
		SetBody(models.AskRAGArgs{Query: question, APIKey: key}).
		SetResult(&result).
		SetError(&failure).
		Post("/tools/" + models.ToolAskRAG)
	if err != nil {
		return "", fmt.Errorf("gateway request failed: %w", err)
	}
	if resp.IsError() {
		if failure.Error.Message != "" {
			return "", fmt.Errorf("gateway returned HTTP %d: %s", resp.StatusCode(), failure.Error.Message)
		}
		return "", fmt.Errorf("gateway returned HTTP %d", resp.StatusCode())
	}
	if result.Result == "" {
		return "", errors.New("gateway returned an empty result")
	}
	return result.Result, nil
}
