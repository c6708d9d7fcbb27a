package main

import (
	"fmt"

	"admission-gateway/internal/config"
	"admission-gateway/middleware/ratelimit/infra"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Valida a config e imprime a configuração efetiva (sem segredos)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		// monta as policies contra um store descartável: pega erro de
		// construção sem abrir conexão com Redis/Postgres
		if _, err := config.BuildPolicies(cfg.Policies, infra.NewMemoryCounterStore(infra.WithShards(1))); err != nil {
			return err
		}

		out, err := yaml.Marshal(cfg.Redacted())
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), string(out))
		fmt.Fprintf(cmd.OutOrStdout(), "# configuration OK: %d policies\n", len(cfg.Policies))
		return nil
	},
}
