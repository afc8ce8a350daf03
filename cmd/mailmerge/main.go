// Command mailmerge merges a .docx template with the rows of an .xlsx
// workbook and packages one document per row into a zip archive.
//
//	mailmerge run --template letter.docx --data people.xlsx --out letters.zip --naming-field nome
//	mailmerge serve
//	mailmerge mcp
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "mailmerge",
	Short:         "Merge a .docx template with spreadsheet rows",
	Long:          `mailmerge fills {{placeholders}} in a Word template from each row of an Excel workbook, converts every document and packs them into one zip archive.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.Version = version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(placeholdersCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(mcpCmd)

	rootCmd.PersistentFlags().String("config", env("MAILMERGE_CONFIG", ""), "YAML configuration file")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func env(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
