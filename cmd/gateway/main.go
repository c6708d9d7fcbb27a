package main

import (
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Reverse proxy com admission control por janela de tempo",
	Long: `gateway aplica uma lista ordenada de policies de rate limit (fixed ou
sliding window) antes de repassar a requisição para o upstream.

Config vem de admission-gateway.yaml (. ou /etc/admission-gateway), de um
.env e de variáveis ADMISSION_* (ex: ADMISSION_SERVER_UPSTREAM_URL).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./admission-gateway.yaml)")
	rootCmd.AddCommand(serveCmd, checkCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("command failed")
		os.Exit(1)
	}
}
