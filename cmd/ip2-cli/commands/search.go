package commands

import (
	"database/sql"
	"time"

	"ip2api/lib/configutil"
	"ip2api/lib/scrapers/ip2"
	"ip2api/lib/searchlog"
	"ip2api/lib/util/serviceutil"

	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

var searchDatabase *string
var searchParamsFile *string
var searchLogDb *string
var searchConvert *bool
var searchMonoisotopic *bool

func init() {
	searchDatabase = searchCmd.Flags().String("database", "", "The server-side file name of the search database.")
	searchParamsFile = searchCmd.Flags().String("params", "search_params.json5", "A json5 file of prolucid search parameters.")
	searchLogDb = searchCmd.Flags().String("log", "searches.db", "The sqlite database search submissions are recorded in.")
	searchConvert = searchCmd.Flags().Bool("convert", false, "Convert uploaded .raw files server-side.")
	searchMonoisotopic = searchCmd.Flags().Bool("mono-iso", false, "Treat uploaded spectra as monoisotopic.")
	searchCmd.MarkFlagRequired("database")

	rootCmd.AddCommand(searchCmd)
}

func openSearchLog(path string) searchlog.Store {
	sqlite, err := sql.Open("sqlite", path)
	if err != nil {
		serviceutil.Fatal("failed to open search log", err)
	}
	store, err := searchlog.NewStore(sqlite)
	if err != nil {
		serviceutil.Fatal("failed to apply search log schema", err)
	}
	return store
}

var searchCmd = &cobra.Command{
	Use:   "search <name> <spectra files...> --database <file.fasta>",
	Short: "Creates an experiment, uploads spectra and submits a prolucid search.",
	Args:  cobra.MinimumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())

		params, err := configutil.ReadConfig[map[string]string](*searchParamsFile)
		if err != nil {
			serviceutil.Fatal("failed to read search params", err)
		}
		database, err := client.GetDatabase(cmd.Context(), *searchDatabase)
		if err != nil {
			serviceutil.Fatal("failed to find search database", err)
		}

		experiment, _, err := client.Search(cmd.Context(), ip2.SearchOptions{
			Name:         args[0],
			FilePaths:    args[1:],
			SearchParams: params,
			Database:     database,
			Convert:      *searchConvert,
			Monoisotopic: *searchMonoisotopic,
		})
		if err != nil {
			serviceutil.Fatal("failed to submit search", err)
		}

		store := openSearchLog(*searchLogDb)
		_, err = store.RecordSearch(cmd.Context(), searchlog.Search{
			DatasetName:  experiment.Name,
			ProjectName:  experiment.Project().Name,
			DatabasePath: database.Filepath,
			SubmittedAt:  time.Now(),
		})
		if err != nil {
			serviceutil.Fatal("failed to record search", err)
		}

		cmd.Println("submitted search for " + experiment.Name)
	},
}
