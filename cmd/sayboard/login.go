package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login <email> <password>",
	Short: "Authenticate against the sayboard backend",
	Long: `Log in and persist the bearer token in the local credential store.

The token is stored under the data directory with owner-only permissions
and attached to every authenticated request until you run logout.`,
	Args: cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		token, user, err := app.client.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: login failed: %v\n", err)
			os.Exit(1)
		}
		if err := app.creds.Save(token); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store token: %v\n", err)
			os.Exit(1)
		}

		name := user.Name
		if name == "" {
			name = user.Email
		}
		fmt.Printf("Logged in as %s\n", name)
	},
}

var signupCmd = &cobra.Command{
	Use:   "signup <email> <password>",
	Short: "Create an account and log in",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		name, _ := cmd.Flags().GetString("name")

		app, err := openApp(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		token, user, err := app.client.Signup(cmd.Context(), args[0], args[1], name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: signup failed: %v\n", err)
			os.Exit(1)
		}
		if err := app.creds.Save(token); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to store token: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("Account created for %s\n", user.Email)
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Discard the stored bearer token",
	Run: func(cmd *cobra.Command, args []string) {
		app, err := openApp(cmd.Context())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		defer app.Close()

		if err := app.creds.Clear(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Println("Logged out")
	},
}

func init() {
	signupCmd.Flags().String("name", "", "Display name for the new account")

	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(signupCmd)
	rootCmd.AddCommand(logoutCmd)
}
