package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-sherpa-broker/pkg/utilities"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "sherpa-broker",
		Short:        "OAuth token broker in front of the Sherpa API",
		Version:      version,
		SilenceUsage: true,
	}
	root.SetVersionTemplate(`{{printf "sherpa-broker version %s\n" .Version}}`)
	root.AddCommand(newServeCmd(), newClientTokenCmd(), newStubProviderCmd())
	return root
}

// newLogger builds the process logger from LOG_* variables.
func newLogger() (*zap.Logger, error) {
	lg, err := utilities.Init(utilities.ConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return lg, nil
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
