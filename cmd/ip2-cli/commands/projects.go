package commands

import (
	"os"
	"strconv"

	"ip2api/lib/util/serviceutil"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

func init() {
	projectsCmd.AddCommand(projectsListCmd)
	projectsCmd.AddCommand(projectsCreateCmd)
	projectsCmd.AddCommand(projectsDeleteCmd)
	rootCmd.AddCommand(projectsCmd)
}

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "Manages projects on the IP2 instance.",
}

var projectsListCmd = &cobra.Command{
	Use:   "list",
	Short: "Prints the projects of the configured user.",
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())

		projects, err := client.Projects(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to list projects", err)
		}

		t := table.NewWriter()
		t.SetOutputMirror(os.Stdout)
		t.AppendHeader(table.Row{"Id", "Name", "Experiments"})
		for _, p := range projects {
			id, err := p.Id(cmd.Context())
			if err != nil {
				serviceutil.Fatal("failed to resolve project id", err)
			}
			experiments, err := p.Experiments(cmd.Context())
			if err != nil {
				serviceutil.Fatal("failed to list experiments", err)
			}
			t.AppendRow(table.Row{id, p.Name, len(experiments)})
		}
		t.SetStyle(table.StyleRounded)
		t.Render()
	},
}

var projectsCreateCmd = &cobra.Command{
	Use:   "create <name> [description]",
	Short: "Creates a project.",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())

		description := ""
		if len(args) > 1 {
			description = args[1]
		}
		project := client.NewProject(args[0])
		err := project.Create(cmd.Context(), description)
		if err != nil {
			serviceutil.Fatal("failed to create project", err)
		}

		id, err := project.Id(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to resolve project id", err)
		}
		cmd.Println("created project " + strconv.Itoa(id))
	},
}

var projectsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Deletes a project and everything under it.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		client, _ := createClient(cmd.Context())

		project, err := client.GetProject(cmd.Context(), args[0])
		if err != nil {
			serviceutil.Fatal("failed to find project", err)
		}
		err = project.Delete(cmd.Context())
		if err != nil {
			serviceutil.Fatal("failed to delete project", err)
		}
	},
}
