package cmd

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "shipping_service",
	Short: "Shipping bridge between the Shopify storefront and the TCS courier",
	Long: `A service that receives Shopify order webhooks, books the orders
with the TCS courier, and pushes tracking back to Shopify as fulfillments.`,
	Run: func(cmd *cobra.Command, args []string) {
		err := cmd.Help()
		if err != nil {
			log.Error().Err(err).Msg("Failed to display help")
		}
	},
}

// Execute executes the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize()
}
