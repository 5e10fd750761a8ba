// Package cmd implements the command-line interface for gmail-chat.
//
// This package provides the following commands:
//   - serve: Start the chat backend HTTP server
//   - version: Display version information
//
// The serve command is the default command when no subcommand is specified.
// Settings come from flags, then environment variables, then a .env file in
// the working directory.
package cmd
