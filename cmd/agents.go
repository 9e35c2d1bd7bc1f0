package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/titanous/json5"

	"github.com/nextlevelbuilder/salesclaw/internal/config"
	"github.com/nextlevelbuilder/salesclaw/internal/store"
)

func agentsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agents",
		Short: "Agent configuration management",
	}
	cmd.AddCommand(agentsImportCmd())
	return cmd
}

// seedFile is the on-disk shape accepted by `agents import`.
type seedFile struct {
	Agents   []store.AgentConfig `json:"agents"`
	Products []store.Product     `json:"products"`
}

func agentsImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Upsert agents and their catalog from a JSON5 file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read seed file: %w", err)
			}
			var seed seedFile
			if err := json5.Unmarshal(data, &seed); err != nil {
				return fmt.Errorf("parse seed file: %w", err)
			}

			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			stores, err := openStores(cfg)
			if err != nil {
				return err
			}
			defer stores.Close()

			n, p, err := importSeed(cmd.Context(), stores, seed)
			if err != nil {
				return err
			}
			slog.Info("import complete", "agents", n, "products", p)
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d agents, %d products\n", n, p)
			return nil
		},
	}
}

func importSeed(ctx context.Context, stores *store.Stores, seed seedFile) (agents, products int, err error) {
	known := make(map[string]bool, len(seed.Agents))
	for i := range seed.Agents {
		a := &seed.Agents[i]
		if a.ID == "" || a.ChannelAddress == "" {
			return agents, products, fmt.Errorf("agent #%d: id and channel_address are required", i)
		}
		a.UpdatedAt = time.Now().UTC()
		if err := stores.Agents.PutAgentConfig(ctx, a); err != nil {
			return agents, products, fmt.Errorf("put agent %s: %w", a.ID, err)
		}
		known[a.ID] = true
		agents++
	}
	for i := range seed.Products {
		p := &seed.Products[i]
		if !known[p.AgentID] {
			if _, err := stores.Agents.GetAgentConfig(ctx, p.AgentID); err != nil {
				return agents, products, fmt.Errorf("product %s: agent %s: %w", p.ID, p.AgentID, err)
			}
		}
		if err := stores.Products.PutProduct(ctx, p); err != nil {
			return agents, products, fmt.Errorf("put product %s: %w", p.ID, err)
		}
		products++
	}
	return agents, products, nil
}
