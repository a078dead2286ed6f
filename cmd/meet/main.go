package main

import (
	"os"

	"github.com/rs/zerolog/log"
)

func main() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("meet failed")
		os.Exit(1)
	}
}
