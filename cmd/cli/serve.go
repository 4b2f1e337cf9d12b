package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the scan API over HTTP",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if err = initHandler(cmd, args); err != nil {
			return
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if e := stegaHandler.Close(stopCtx); e != nil {
				logger.Error("error stopping server resources", slog.String("error", e.Error()))
			}
		}()
		srv, err := stegaHandler.SetupServer(cmd.Context())
		if err != nil {
			return
		}

		errChan := make(chan error, 1)
		go func() {
			errChan <- srv.Start(conf.Server.Address)
		}()
		select {
		case err = <-errChan:
			return
		case <-cmd.Context().Done():
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err = srv.Shutdown(shutdownCtx); err != nil {
			return
		}
		return <-errChan
	},
	Args: cobra.NoArgs,
}
