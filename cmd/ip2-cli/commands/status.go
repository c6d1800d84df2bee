package commands

import (
	"fmt"
	"time"

	"ip2api/lib/searchlog"
	"ip2api/lib/util/serviceutil"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var statusWatch *bool
var statusLogDb *string

func init() {
	statusWatch = statusCmd.Flags().Bool("watch", false, "Poll until the job finishes.")
	statusLogDb = statusCmd.Flags().String("log", "searches.db", "The sqlite database poll results are recorded in.")

	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <dataset name> [--watch]",
	Short: "Polls the job monitor for a submitted search.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())
		store := openSearchLog(*statusLogDb)

		var searchId int64
		history, err := store.History(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to read search log", err)
		}
		if len(history) > 0 {
			searchId = history[0].Id
		}

		job := client.NewJob(args[0])
		for {
			err := job.Update(cmd.Context())
			if err != nil {
				serviceutil.Fatal("failed to poll job monitor", err)
			}
			cmd.Println(fmt.Sprintf("job=%s finished=%t progress=%.1f%%", job.Id, job.Finished, job.Progress))

			if searchId != 0 {
				err = store.RecordPoll(cmd.Context(), searchlog.Poll{
					SearchId: searchId,
					JobId:    job.Id,
					Finished: job.Finished,
					Progress: job.Progress,
					PolledAt: time.Now(),
				})
				if err != nil {
					serviceutil.Fatal("failed to record poll", err)
				}
			}

			if job.Finished || !*statusWatch {
				return
			}
			select {
			case <-cmd.Context().Done():
				return
			case <-time.After(time.Second * 15):
			}
		}
	},
}
