package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the gmail-chat application
var rootCmd = &cobra.Command{
	Use:   "gmail-chat",
	Short: "Chat with your Gmail inbox through an AI assistant",
	Long: `gmail-chat is a web backend that lets a signed-in user ask questions
about their Gmail mailbox in natural language.

The assistant searches mail, reads messages and lists attachments through
a small set of tools, and the frontend can download any attachment it finds.`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "gmail-chat version %s\n" .Version}}`)

	// If no subcommand is provided, start the server
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
}
