package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"feedsync/internal/app"
	"feedsync/internal/service"
)

var (
	fetchDryRun bool

	proxySQLID    string
	proxyPage     int
	proxyPageSize int
	proxyStatDate string
	proxyReferer  string
	proxyCookie   string
)

var fetchCmd = &cobra.Command{
	Use:       "fetch <quotes|news>",
	Short:     "Run one source once and print the result as JSON",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{service.SourceQuotes, service.SourceNews},
	RunE: func(cmd *cobra.Command, args []string) error {
		res, err := getApp().Fetch(cmd.Context(), args[0], app.FetchOptions{DryRun: fetchDryRun})
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			return err
		}
		if res.Failed() {
			return fmt.Errorf("%s run failed: %s", res.Source, res.ErrorKind)
		}
		return nil
	},
}

var proxyCmd = &cobra.Command{
	Use:   "proxy",
	Short: "Query the SSE common query service once and print the data",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, body, err := getApp().Proxy(cmd.Context(), service.QueryParams{
			SQLID:    proxySQLID,
			Page:     proxyPage,
			PageSize: proxyPageSize,
			StatDate: proxyStatDate,
			Referer:  proxyReferer,
			Cookie:   proxyCookie,
		})
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(body))
		if status >= 300 {
			return fmt.Errorf("proxy request failed with status %d", status)
		}
		return nil
	},
}

func init() {
	fetchCmd.Flags().BoolVar(&fetchDryRun, "dry-run", false, "Use an in-memory gate and skip persistence")

	proxyCmd.Flags().StringVar(&proxySQLID, "sql-id", "", "sqlId parameter (defaults to config)")
	proxyCmd.Flags().IntVar(&proxyPage, "page", 0, "Page number (defaults to config)")
	proxyCmd.Flags().IntVar(&proxyPageSize, "page-size", 0, "Page size (defaults to config)")
	proxyCmd.Flags().StringVar(&proxyStatDate, "stat-date", "", "STAT_DATE filter, e.g. 2026-10-14")
	proxyCmd.Flags().StringVar(&proxyReferer, "referer", "", "Referer override")
	proxyCmd.Flags().StringVar(&proxyCookie, "cookie", "", "Cookie forwarded upstream")
}
