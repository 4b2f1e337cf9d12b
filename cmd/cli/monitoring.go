package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var monitoringCmd = &cobra.Command{
	Use:   "monitoring <dirs...>",
	Short: "Watch folders and scan the files created in them",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		logger.Debug("config", slog.Any("config", conf))
		conf.Paths = append(conf.Paths, args...)
		if err = initHandler(cmd, args); err != nil {
			return
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer stopCancel()
			if e := stegaHandler.Close(stopCtx); e != nil {
				logger.Error("error stopping monitoring", slog.String("error", e.Error()))
			}
		}()
		if err = stegaHandler.StartMonitoring(cmd.Context(), conf.Paths); err != nil {
			return fmt.Errorf("could not start monitoring, err: %w", err)
		}
		<-cmd.Context().Done()
		return
	},
	Args: checkFiles,
}
