package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-cli/internal/model"
	"github.com/sells-group/provider-cli/internal/store"
)

var (
	providersStatus string
	providersNPI    string
	providersLimit  int
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List or look up golden provider records",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if providersNPI != "" {
			p, err := st.GetProviderByNPI(ctx, providersNPI)
			if err != nil {
				return eris.Wrapf(err, "provider %s", providersNPI)
			}
			return printJSON(cmd, p)
		}

		providers, err := st.ListProviders(ctx, store.ProviderFilter{
			Status: model.ProviderStatus(providersStatus),
			Limit:  providersLimit,
		})
		if err != nil {
			return eris.Wrap(err, "list providers")
		}

		return printJSON(cmd, providers)
	},
}

func init() {
	providersCmd.Flags().StringVar(&providersStatus, "status", "", "filter by status (verified, needs_review, enriched)")
	providersCmd.Flags().StringVar(&providersNPI, "npi", "", "look up a single provider by NPI")
	providersCmd.Flags().IntVar(&providersLimit, "limit", 50, "max rows")
	rootCmd.AddCommand(providersCmd)
}
