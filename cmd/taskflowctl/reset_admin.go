package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"taskflow/internal/bootstrap"
	"taskflow/internal/platform/auth"
)

var resetFlags struct {
	site  string
	admin bootstrap.AdminInput
}

var resetAdminCmd = &cobra.Command{
	Use:   "reset-admin",
	Short: "Create or reset an administrator account",
	Long: "Sets the password, activates the account, makes it an ADMIN managing --site " +
		"and revokes its existing sessions. The account is created when missing.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		in := resetFlags.admin
		if in.Password == "" {
			in.Password = os.Getenv("TASKFLOW_ADMIN_PASSWORD")
		}

		b := bootstrap.New(db, auth.NewPasswords(cfg.Auth.BcryptCost), cfg.Auth.MinPasswordLength)
		id, err := b.ResetAdmin(cmd.Context(), resetFlags.site, in)
		if err != nil {
			return err
		}

		log.Info().Str("user_id", id).Str("username", in.Username).Msg("Administrator reset")
		return nil
	},
}

func init() {
	f := resetAdminCmd.Flags()
	f.StringVar(&resetFlags.site, "site", bootstrap.DefaultSiteName, "Site to manage")
	f.StringVar(&resetFlags.admin.Username, "username", "admin", "Administrator username")
	f.StringVar(&resetFlags.admin.Email, "email", "", "Email, required when the account is created")
	f.StringVar(&resetFlags.admin.Password, "password", "", "New password")
	rootCmd.AddCommand(resetAdminCmd)
}
