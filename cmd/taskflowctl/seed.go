package main

import (
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"taskflow/internal/bootstrap"
	"taskflow/internal/platform/auth"
)

var seedFlags struct {
	company string
	site    string
	admin   bootstrap.AdminInput
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create the default tenant, site and first administrator",
	Long: "Creates the company tenant and its default site if missing. When no ADMIN " +
		"exists, creates one; otherwise promotes --admin-username to ADMIN. The " +
		"password is read from --admin-password or TASKFLOW_ADMIN_PASSWORD.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, db, err := connect(cmd.Context())
		if err != nil {
			return err
		}
		defer db.Close()

		in := bootstrap.SeedInput{Company: seedFlags.company, SiteName: seedFlags.site, Admin: seedFlags.admin}
		if in.Company == "" {
			in.Company = cfg.App.CompanyName
		}
		if in.Admin.Password == "" {
			in.Admin.Password = os.Getenv("TASKFLOW_ADMIN_PASSWORD")
		}

		b := bootstrap.New(db, auth.NewPasswords(cfg.Auth.BcryptCost), cfg.Auth.MinPasswordLength)
		res, err := b.Seed(cmd.Context(), in)
		if err != nil {
			return err
		}

		log.Info().
			Str("tenant_id", res.TenantID).
			Bool("tenant_created", res.CreatedTenant).
			Str("site_id", res.SiteID).
			Bool("site_created", res.CreatedSite).
			Str("admin_id", res.AdminID).
			Bool("admin_created", res.CreatedAdmin).
			Bool("admin_promoted", res.Promoted).
			Msg("Seed complete")
		return nil
	},
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedFlags.company, "company", "", "Tenant name (defaults to app.company_name)")
	f.StringVar(&seedFlags.site, "site", bootstrap.DefaultSiteName, "Default site name")
	f.StringVar(&seedFlags.admin.Username, "admin-username", "admin", "Administrator username")
	f.StringVar(&seedFlags.admin.Email, "admin-email", "", "Administrator email")
	f.StringVar(&seedFlags.admin.Password, "admin-password", "", "Administrator password")
	rootCmd.AddCommand(seedCmd)
}
