package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"github.com/paydesk/finchat/internal/config"
	"github.com/paydesk/finchat/internal/domain"
	"github.com/paydesk/finchat/internal/gateway"
	"github.com/paydesk/finchat/internal/store"
)

func newGatewayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gateway",
		Short: "Manage the finchat gateway server",
	}

	cmd.AddCommand(newGatewayRunCmd())
	cmd.AddCommand(newGatewaySeedCmd())
	return cmd
}

func newGatewayRunCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the gateway server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}
			if cfg.Gateway.JWTSecret == "" {
				return fmt.Errorf("gateway.jwtSecret is required (set it in %s or via FINCHAT_JWT_SECRET in .env)", cfgFile)
			}

			db, err := store.Open(cfg.Gateway.DatabasePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			srv := gateway.NewServer(cfg.Gateway, store.NewChatStore(db), log)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override the listen port")
	cmd.Flags().StringVar(&bind, "bind", "", "bind mode (loopback, lan, custom)")
	return cmd
}

func newGatewaySeedCmd() *cobra.Command {
	var (
		email    string
		password string
		name     string
		role     string
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a user account in the gateway database",
		RunE: func(cmd *cobra.Command, args []string) error {
			if role != string(domain.RoleCustomer) && role != string(domain.RoleAdmin) {
				return fmt.Errorf("role must be %q or %q", domain.RoleCustomer, domain.RoleAdmin)
			}

			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Gateway.DatabasePath, log)
			if err != nil {
				return err
			}
			defer db.Close()

			hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hashing password: %w", err)
			}

			u := store.User{
				Email:        email,
				PasswordHash: string(hash),
				DisplayName:  name,
				Role:         domain.Role(role),
			}
			if err := store.NewChatStore(db).CreateUser(u); err != nil {
				return err
			}

			fmt.Printf("created %s account for %s\n", role, email)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "account email")
	cmd.Flags().StringVar(&password, "password", "", "account password")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&role, "role", string(domain.RoleCustomer), "account role (customer or admin)")
	cmd.MarkFlagRequired("email")
	cmd.MarkFlagRequired("password")
	return cmd
}
