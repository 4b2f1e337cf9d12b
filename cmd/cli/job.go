package cli

import (
	"encoding/json"
	"os"

	"github.com/glimps-re/stegascan/pkg/config"
	"github.com/spf13/cobra"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect asynchronous analyses",
}

var jobGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Print an analysis record from the job store",
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		// records of the memory store do not outlive the server
		conf.Jobs.Store = config.StoreSQLite
		if err = initHandler(cmd, args); err != nil {
			return
		}
		defer func() {
			_ = stegaHandler.Close(cmd.Context())
		}()
		if err = stegaHandler.OpenStore(cmd.Context()); err != nil {
			return
		}
		rec, err := stegaHandler.Store.Get(cmd.Context(), args[0])
		if err != nil {
			return
		}
		rec.Status = rec.Status.Public()
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(rec)
	},
	Args: cobra.ExactArgs(1),
}
