package cmd

import (
	"github.com/nguyentranbao-ct/consult-live/internal/app"
	"github.com/nguyentranbao-ct/consult-live/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var rootCmd = &cobra.Command{
	Use:           "consult-live",
	Short:         "Realtime chat, course forums and live sessions gateway",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		zap.S().Fatal(err)
	}
}
