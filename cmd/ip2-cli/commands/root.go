package commands

import (
	"context"
	"fmt"
	"os"
	"time"

	"ip2api/lib/configutil"
	"ip2api/lib/restyutil"
	"ip2api/lib/scrapers/ip2"
	"ip2api/lib/scrapers/ip2/core"
	"ip2api/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ip2-cli",
	Short: "ip2-cli drives an IP2 instance: projects, uploads, searches and results.",
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type Config struct {
	BaseUrl  string `json:"base_url"`
	Username string `json:"username"`
	Password string `json:"password"`
	// ProjectName overrides the default project experiments are created
	// under.
	ProjectName string `json:"project_name"`
}

func createClient(ctx context.Context) (*ip2.Client, Config) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		serviceutil.Fatal("failed to read config", err)
	}

	loginCtx, cancel := context.WithTimeout(ctx, time.Second*30)
	defer cancel()

	coreClient, err := core.NewClient(loginCtx, core.ClientOptions{
		BaseUrl:  cfg.BaseUrl,
		Username: cfg.Username,
	})
	if err != nil {
		serviceutil.Fatal("failed to initialize core ip2 client", err)
	}
	core.SetRestyInstrumentOutput(restyutil.NewFilesystemOutput(".dev/resty/ip2"))

	err = coreClient.LoginPassword(loginCtx, cfg.Password)
	if err != nil {
		serviceutil.Fatal("failed to login to ip2", err)
	}

	return ip2.NewClientWithCore(coreClient, ip2.ClientOptions{
		DefaultProjectName: cfg.ProjectName,
	}), cfg
}
