package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/taduranmiggy/loveyou/internal/ui"
)

var registerCmd = &cobra.Command{
	Use:     "register <email>",
	GroupID: "account",
	Short:   "Create an account and sign in",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		name, _ := cmd.Flags().GetString("name")
		regimen, _ := cmd.Flags().GetString("regimen")
		start, _ := cmd.Flags().GetString("start")

		password, err := promptPassword("Password: ")
		if err != nil {
			fatalf("%v", err)
		}
		confirm, err := promptPassword("Confirm password: ")
		if err != nil {
			fatalf("%v", err)
		}
		if password != confirm {
			fatalf("passwords do not match")
		}

		user, err := a.Local.CreateUser(cmd.Context(), args[0], password, name)
		if err != nil {
			fatalf("%v", err)
		}

		if regimen != "" || start != "" {
			user.RegimenID = regimen
			user.CycleStart = start
			if err := a.UpdateProfile(cmd.Context(), user); err != nil {
				fatalf("%v", err)
			}
		}

		fmt.Printf("%s Registered %s\n", ui.RenderPass("✓"), user.Email)
		if user.RegimenID != "" {
			fmt.Printf("   Regimen: %s, cycle starts %s\n", user.RegimenID, user.CycleStart)
		}
	},
}

var loginCmd = &cobra.Command{
	Use:     "login <email>",
	GroupID: "account",
	Short:   "Sign in to an existing account",
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		password, err := promptPassword("Password: ")
		if err != nil {
			fatalf("%v", err)
		}

		user, err := a.Local.AuthenticateUser(cmd.Context(), args[0], password)
		if err != nil {
			fatalf("%v", err)
		}

		fmt.Printf("%s Signed in as %s\n", ui.RenderPass("✓"), user.Email)
	},
}

var logoutCmd = &cobra.Command{
	Use:     "logout",
	GroupID: "account",
	Short:   "End the current session",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		if err := a.Local.Logout(cmd.Context()); err != nil {
			fatalf("%v", err)
		}
		fmt.Printf("%s Signed out\n", ui.RenderPass("✓"))
	},
}

var profileCmd = &cobra.Command{
	Use:     "profile",
	GroupID: "account",
	Short:   "Show or update the signed-in profile",
	Run: func(cmd *cobra.Command, args []string) {
		a, err := newApp()
		if err != nil {
			fatalf("%v", err)
		}
		defer a.Close()

		user, err := a.Local.CurrentUser(cmd.Context())
		if err != nil {
			fatalf("%v", err)
		}

		changed := false
		if cmd.Flags().Changed("name") {
			user.DisplayName, _ = cmd.Flags().GetString("name")
			changed = true
		}
		if cmd.Flags().Changed("regimen") {
			user.RegimenID, _ = cmd.Flags().GetString("regimen")
			changed = true
		}
		if cmd.Flags().Changed("start") {
			user.CycleStart, _ = cmd.Flags().GetString("start")
			changed = true
		}

		if changed {
			if err := a.UpdateProfile(cmd.Context(), user); err != nil {
				fatalf("%v", err)
			}
			fmt.Printf("%s Profile updated\n", ui.RenderPass("✓"))
			return
		}

		fmt.Printf("Email:    %s\n", user.Email)
		if user.DisplayName != "" {
			fmt.Printf("Name:     %s\n", user.DisplayName)
		}
		if user.RegimenID != "" {
			fmt.Printf("Regimen:  %s\n", user.RegimenID)
			fmt.Printf("Cycle:    started %s\n", user.CycleStart)
		} else {
			fmt.Printf("Regimen:  %s\n", ui.RenderFaint("not set"))
		}
	},
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	data, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("password must not be empty")
	}
	return string(data), nil
}

func init() {
	registerCmd.Flags().String("name", "", "Display name")
	registerCmd.Flags().String("regimen", "", "Regimen ID (see 'ly regimens')")
	registerCmd.Flags().String("start", "", "Cycle start date (YYYY-MM-DD)")

	profileCmd.Flags().String("name", "", "New display name")
	profileCmd.Flags().String("regimen", "", "New regimen ID")
	profileCmd.Flags().String("start", "", "New cycle start date (YYYY-MM-DD)")

	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(profileCmd)
}
