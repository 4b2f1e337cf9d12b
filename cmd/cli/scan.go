package cli

import (
	"log/slog"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <paths...>",
	Short: "Scan files and folders, local or on s3://bucket/prefix",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		if err = initHandler(cmd, args); err != nil {
			return
		}
		defer func() {
			if e := stegaHandler.Close(cmd.Context()); e != nil {
				logger.Error("could not close scan resources", slog.String("error", e.Error()))
			}
		}()
		if err = stegaHandler.SetupConnector(cmd.Context()); err != nil {
			return
		}
		if err = stegaHandler.Conn.Start(); err != nil {
			return
		}
		args = append(args, conf.Paths...)
		for _, arg := range args {
			if err = stegaHandler.Conn.ScanFile(cmd.Context(), arg); err != nil {
				logger.Error("error during scan", slog.String("file", arg), slog.String("error", err.Error()))
				stegaHandler.Conn.Close(cmd.Context())
				return
			}
		}
		stegaHandler.Conn.Close(cmd.Context())
		stegaHandler.HandleScanFinished()
		return
	},
	Args: checkFiles,
}
