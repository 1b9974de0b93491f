package main

import (
	"errors"
	"fmt"
	"text/tabwriter"

	"archpay-bend/models"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func escrowCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "escrow",
		Short: "Inspect escrow transactions",
	}
	cmd.AddCommand(escrowShowCmd(a))
	cmd.AddCommand(escrowListCmd(a))
	return cmd
}

func escrowShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Print one escrow transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := primitive.ObjectIDFromHex(args[0])
			if err != nil {
				return fmt.Errorf("invalid escrow id %q", args[0])
			}
			e, err := a.escrows.FindByID(cmd.Context(), id)
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("escrow %s not found", args[0])
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), e)
		},
	}
}

func escrowListCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent escrow transactions",
		RunE: func(cmd *cobra.Command, args []string) error {
			status, _ := cmd.Flags().GetString("status")
			limit, _ := cmd.Flags().GetInt64("limit")

			filter := bson.M{}
			if status != "" {
				filter["status"] = status
			}
			escrows, err := a.escrows.Query(cmd.Context(), filter, limit)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tGATEWAY\tAMOUNT\tCOMMISSION\tCREATED")
			for _, e := range escrows {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s %s\t%s\t%s\n",
					e.ID.Hex(), e.Status, e.Gateway, e.Amount.Format(), e.Currency,
					e.CommissionAmount.Format(), e.CreatedAt.Format("2006-01-02 15:04"))
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringP("status", "s", "", "Filter by status")
	cmd.Flags().Int64P("limit", "n", 20, "Maximum rows")
	return cmd
}
