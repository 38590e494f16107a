package main

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/nupi-ai/voice-talkback/internal/appinfo"
	"github.com/nupi-ai/voice-talkback/internal/telemetry"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appinfo.Info().BinaryName,
		Short:         "Speak coding-assistant responses as they stream",
		Version:       appinfo.Version(),
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newRunCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newVerdictCmd())
	return root
}

func newLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: telemetry.ParseLevel(strings.ToLower(strings.TrimSpace(level))),
	})
	return slog.New(handler)
}
