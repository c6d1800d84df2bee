package commands

import (
	"os"

	"ip2api/lib/scrapers/ip2/results"
	"ip2api/lib/util/serviceutil"

	"github.com/dgraph-io/badger/v4"
	"github.com/spf13/cobra"
)

var dtaselectProject *string
var dtaselectOut *string
var dtaselectCache *string

func init() {
	dtaselectProject = dtaselectCmd.Flags().String("project", "", "The project the experiment lives under; the default project when empty.")
	dtaselectOut = dtaselectCmd.Flags().String("out", "", "Write the output to a file instead of stdout.")
	dtaselectCache = dtaselectCmd.Flags().String("cache", ".dev/ip2-results", "The directory completed results are cached in.")

	rootCmd.AddCommand(dtaselectCmd)
}

var dtaselectCmd = &cobra.Command{
	Use:   "dtaselect <experiment name>",
	Short: "Fetches the DTASelect-filter output of a completed search.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, cfg := createClient(cmd.Context())

		projectName := *dtaselectProject
		if projectName == "" {
			projectName = client.DefaultProjectName
		}
		experiment, err := client.GetExperiment(cmd.Context(), projectName, args[0])
		if err != nil {
			serviceutil.Fatal("failed to find experiment", err)
		}

		cache, err := badger.Open(badger.DefaultOptions(*dtaselectCache))
		if err != nil {
			serviceutil.Fatal("failed to open results cache", err)
		}
		defer cache.Close()

		resultsClient := results.NewClient(client, results.ClientOptions{
			ClientId: cfg.Username,
			Cache:    cache,
		})
		contents, err := resultsClient.DTASelect(cmd.Context(), experiment)
		if err != nil {
			serviceutil.Fatal("failed to fetch DTASelect output", err)
		}

		if *dtaselectOut != "" {
			err = os.WriteFile(*dtaselectOut, []byte(contents), 0o644)
			if err != nil {
				serviceutil.Fatal("failed to write output file", err)
			}
			return
		}
		cmd.Println(contents)
	},
}
