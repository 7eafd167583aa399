package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mikey/mail2cal/internal/adapters/mimeparse"
	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/core"
	"github.com/mikey/mail2cal/internal/di"
	"github.com/mikey/mail2cal/internal/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type extractOutput struct {
	Title       string    `json:"title"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
	Confidence  float64   `json:"confidence"`
	Model       string    `json:"model"`
}

func newExtractCommand(flags *di.CLIFlags) *cobra.Command {
	var inputFile, now string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract an event from a message without publishing it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var reference time.Time
			if now != "" {
				parsed, err := time.Parse(time.RFC3339, now)
				if err != nil {
					return fmt.Errorf("invalid --now value: %w", err)
				}
				reference = parsed
			} else {
				reference = time.Now()
			}

			raw, err := readInput(cmd.InOrStdin(), inputFile)
			if err != nil {
				return err
			}

			return invoke(cmd, flags, func(
				cfg *config.Config,
				logger *zap.Logger,
				text *utils.TextProcessor,
				client core.LLMClient,
				extractor *core.EventExtractor,
			) error {
				defer logger.Sync()

				extraction := cfg.GetExtraction()
				loc, err := extraction.Location()
				if err != nil {
					return err
				}

				msg, err := mimeparse.Parse(raw)
				if err != nil {
					return fmt.Errorf("failed to parse message: %w", err)
				}

				body, isHTML := msg.Body.Text, false
				if body == "" {
					body, isHTML = msg.Body.HTML, true
				}
				normalized := text.Normalize(body, extraction.MaxBodyChars, isHTML)
				logger.Debug("Normalized body",
					zap.Int("chars", len([]rune(normalized))),
					zap.String("subject", msg.Subject))

				event, err := extractor.Extract(cmd.Context(), core.ExtractionRequest{
					Subject:  msg.Subject,
					Sender:   msg.From,
					Body:     normalized,
					Now:      reference,
					Location: loc,
				})
				if err != nil {
					return fmt.Errorf("extraction failed (%s): %w", core.ErrorKind(err), err)
				}

				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(extractOutput{
					Title:       event.Title,
					Start:       event.Start,
					End:         event.End,
					Location:    event.Location,
					Description: event.Description,
					Confidence:  event.Confidence,
					Model:       client.ModelName(),
				})
			})
		},
	}

	cmd.Flags().StringVarP(&inputFile, "file", "f", "", "Input email file (use stdin if not specified)")
	cmd.Flags().StringVar(&now, "now", "", "Reference time for relative dates (RFC 3339)")
	cmd.Flags().StringVar(&flags.Provider, "provider", "", "LLM provider override (openai, gemini, bedrock)")
	cmd.Flags().StringVar(&flags.Timezone, "timezone", "", "Timezone override (IANA name)")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}
	return data, nil
}
