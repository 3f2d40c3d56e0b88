// Package commands holds the subcommands of the forum server binary.
package commands

import "go-forum/internal/config"

type Flags struct {
	LogLevel  string
	LogFormat string

	// Config is loaded in the Before hook and available to all commands
	Config *config.Config
}
