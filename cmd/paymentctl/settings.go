package main

import (
	"fmt"

	"archpay-bend/models"
	"archpay-bend/utils"
	"archpay-bend/utils/gateway"

	"github.com/spf13/cobra"
)

func settingsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show or change payment gateway settings",
	}
	cmd.AddCommand(settingsGetCmd(a))
	cmd.AddCommand(settingsSetCmd(a))
	return cmd
}

func settingsGetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get",
		Short: "Print the payment settings with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := gateway.NewFactory(a.settings, 0).Settings(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}
}

// stringFlags maps flag names to the request field they fill
func stringFlags(req *models.PaymentSettingsReq) map[string]**string {
	return map[string]**string{
		"active-gateway":      &req.ActiveGateway,
		"commission-rate":     &req.CommissionRate,
		"iyzico-api-key":      &req.IyzicoAPIKey,
		"iyzico-secret-key":   &req.IyzicoSecretKey,
		"iyzico-base-url":     &req.IyzicoBaseURL,
		"paytr-merchant-id":   &req.PayTRMerchantID,
		"paytr-merchant-key":  &req.PayTRMerchantKey,
		"paytr-merchant-salt": &req.PayTRMerchantSalt,
		"paytr-base-url":      &req.PayTRBaseURL,
	}
}

func settingsSetCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Update payment settings, only the given flags are written",
		RunE: func(cmd *cobra.Command, args []string) error {
			var req models.PaymentSettingsReq
			changed := 0
			for name, field := range stringFlags(&req) {
				if !cmd.Flags().Changed(name) {
					continue
				}
				v, err := cmd.Flags().GetString(name)
				if err != nil {
					return err
				}
				*field = &v
				changed++
			}
			if cmd.Flags().Changed("paytr-test-mode") {
				v, err := cmd.Flags().GetBool("paytr-test-mode")
				if err != nil {
					return err
				}
				req.PayTRTestMode = &v
				changed++
			}
			if changed == 0 {
				return fmt.Errorf("nothing to update, see --help")
			}
			if err := utils.ValidateReq(req); err != nil {
				return err
			}

			factory := gateway.NewFactory(a.settings, 0)
			if err := factory.UpdateSettings(cmd.Context(), req); err != nil {
				return err
			}
			cfg, err := factory.Settings(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().String("active-gateway", "", "Gateway used for new payments (iyzico, paytr)")
	cmd.Flags().String("commission-rate", "", "Platform commission between 0 and 0.30")
	cmd.Flags().String("iyzico-api-key", "", "iyzico API key")
	cmd.Flags().String("iyzico-secret-key", "", "iyzico secret key")
	cmd.Flags().String("iyzico-base-url", "", "iyzico API base url")
	cmd.Flags().String("paytr-merchant-id", "", "PayTR merchant id")
	cmd.Flags().String("paytr-merchant-key", "", "PayTR merchant key")
	cmd.Flags().String("paytr-merchant-salt", "", "PayTR merchant salt")
	cmd.Flags().String("paytr-base-url", "", "PayTR API base url")
	cmd.Flags().Bool("paytr-test-mode", false, "Send PayTR requests in test mode")

	return cmd
}
