package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/studysync/studysync/internal/reconcile"
	"github.com/studysync/studysync/internal/schema"
	"github.com/studysync/studysync/internal/ui"
)

var userCmd = &cobra.Command{
	Use:     "user",
	GroupID: "setup",
	Short:   "Manage the account",
}

var userRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Create the user profile locally and in the cloud",
	Long: `Create the user profile locally and in the cloud.

Profiles are written once and not reconciled afterwards. Without --id the
configured user id is used, or a new one is generated; save it with
'studysync config init' or STUDYSYNC_USER_ID.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		out := cmd.OutOrStdout()
		a, err := openApp(ctx, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		flags := cmd.Flags()
		u := &schema.User{}
		u.ID, _ = flags.GetString("id")
		u.Name, _ = flags.GetString("name")
		u.Email, _ = flags.GetString("email")
		u.University, _ = flags.GetString("university")
		u.CurrentSemester, _ = flags.GetString("semester")
		if u.ID == "" {
			u.ID = a.cfg.User.ID
		}
		if u.ID == "" {
			u.ID = schema.NewID()
		}
		if u.Name == "" {
			u.Name = a.cfg.User.Name
		}
		if u.Email == "" {
			u.Email = a.cfg.User.Email
		}
		if err := u.Validate(); err != nil {
			return err
		}

		cloudOutcome, err := a.engine.RegisterUser(ctx, u)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%s Registered %s %s\n", ui.RenderPass("✓"), u.Name, ui.RenderMuted(u.ID))
		printOutcome(out, "cloud", cloudOutcome)
		if errors.Is(cloudOutcome.Err, reconcile.ErrOffline) {
			fmt.Fprintf(out, "   %s run 'studysync user register' again when online\n", ui.RenderMuted("-"))
		}
		if a.cfg.User.ID != u.ID {
			fmt.Fprintf(out, "\nUse it with --user %s or set user.id in %s\n", u.ID, configPathHint(a))
		}
		return nil
	},
}

func configPathHint(a *app) string {
	if a.cfg.File != "" {
		return a.cfg.File
	}
	return "your config file"
}

func init() {
	f := userRegisterCmd.Flags()
	f.String("id", "", "user id (default user.id, or generated)")
	f.String("name", "", "display name")
	f.String("email", "", "email address")
	f.String("university", "", "university")
	f.String("semester", "", "current semester")

	userCmd.AddCommand(userRegisterCmd)
	rootCmd.AddCommand(userCmd)
}
