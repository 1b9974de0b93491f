// Command paymentctl is the operator tool for payment settings and escrows.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"archpay-bend/config"
	"archpay-bend/dao"
	"archpay-bend/models"
	"archpay-bend/utils/gateway"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// Version is set at build time
var Version = "dev"

type dbConfig struct {
	MongoURI string `env:"MONGO_URI,required,notEmpty"`
	MongoDB  string `env:"MONGO_DB" envDefault:"archpay"`
}

// escrowStore is the escrow access the commands need
type escrowStore interface {
	FindByID(ctx context.Context, id primitive.ObjectID) (models.EscrowTransaction, error)
	Query(ctx context.Context, filter bson.M, limit int64) ([]models.EscrowTransaction, error)
}

// app carries the collaborators of every command. Tests fill it directly.
type app struct {
	settings gateway.SettingsStore
	escrows  escrowStore
	db       *mongo.Database
	out      io.Writer
	close    func()
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintln(os.Stderr, err)
	}

	a := &app{out: os.Stdout}
	rootCmd := newRootCmd(a)
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return a.connect()
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if a.close != nil {
			a.close()
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd(a *app) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "paymentctl",
		Short:         "Manage payment gateway settings and inspect escrows",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.SetOut(a.out)

	rootCmd.AddCommand(settingsCmd(a))
	rootCmd.AddCommand(escrowCmd(a))
	rootCmd.AddCommand(indexesCmd(a))
	return rootCmd
}

func (a *app) connect() error {
	var cfg dbConfig
	if err := config.ParseEnv(&cfg); err != nil {
		return err
	}
	client, err := dao.Initialize(cfg.MongoURI)
	if err != nil {
		return fmt.Errorf("connect mongo: %w", err)
	}

	a.db = client.Database(cfg.MongoDB)
	a.settings = dao.NewSettingsDAO(a.db)
	a.escrows = dao.NewEscrowDAO(a.db)
	a.close = func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client.Disconnect(ctx)
	}
	return nil
}

func indexesCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ensure-indexes",
		Short: "Create the indexes the payment flow relies on",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := dao.EnsureIndexes(cmd.Context(), a.db); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "indexes ready")
			return nil
		},
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
