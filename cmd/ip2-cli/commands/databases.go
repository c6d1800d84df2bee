package commands

import (
	"os"

	"ip2api/lib/scrapers/ip2"
	"ip2api/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var uploadSource *string
var uploadOrganism *string
var uploadVersion *string

func init() {
	uploadSource = databasesUploadCmd.Flags().String("source", "UniProt", "The source tag of the database.")
	uploadOrganism = databasesUploadCmd.Flags().String("organism", "", "The organism of the database.")
	uploadVersion = databasesUploadCmd.Flags().String("version", "", "A version label for the database.")
	databasesUploadCmd.MarkFlagRequired("organism")

	databasesCmd.AddCommand(databasesListCmd)
	databasesCmd.AddCommand(databasesUploadCmd)
	rootCmd.AddCommand(databasesCmd)
}

var databasesCmd = &cobra.Command{
	Use:   "databases",
	Short: "Manages protein search databases on the IP2 instance.",
}

var databasesListCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints every search database registered on the instance.",
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())

		databases, err := client.Databases(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to list databases", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"User", "File", "Source", "Organism"})
		for _, d := range databases {
			t.AppendRow(table.Row{d.Username, d.Filepath, d.Source, d.Organism})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

var databasesUploadCmd = &cobra.Command{
	Use:   "upload <path/to/database.fasta> --organism <name> [--source <tag>] [--version <label>]",
	Short: "Uploads a .fasta search database and registers its metadata.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())

		database := client.NewDatabase("")
		err := database.Upload(cmd.Context(), args[0], ip2.UploadDatabaseOptions{
			Source:   *uploadSource,
			Organism: *uploadOrganism,
			Version:  *uploadVersion,
		})
		if err != nil {
			serviceutil.Fatal("failed to upload database", err)
		}
		cmd.Println("uploaded " + database.Filepath)
	},
}
