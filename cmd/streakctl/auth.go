package main

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Link a Smashrun account",
}

var authLoginCmd = &cobra.Command{
	Use:   "login",
	Short: "Print the provider authorization URL to visit",
	RunE: func(cmd *cobra.Command, args []string) error {
		state, _ := cmd.Flags().GetString("state")

		query := url.Values{}
		if state != "" {
			query.Set("state", state)
		}

		var resp struct {
			URL string `json:"url"`
		}
		if err := apiCall("GET", "/v1/auth/login-url", query, nil, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		fmt.Println("Open this URL in a browser and authorize the app:")
		fmt.Println(resp.URL)
		fmt.Println("\nThen run: streakctl auth callback <code>")
		return nil
	},
}

var authCallbackCmd = &cobra.Command{
	Use:   "callback <code>",
	Short: "Complete the OAuth handshake with the authorization code",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		body := map[string]string{"code": args[0]}

		var resp struct {
			UserID       string `json:"user_id"`
			ConnectionID string `json:"connection_id"`
			Provider     string `json:"provider"`
			NewUser      bool   `json:"new_user"`
		}
		if err := apiCall("POST", "/v1/auth/callback", nil, body, &resp); err != nil {
			return err
		}
		if rawJSON {
			return nil
		}

		if resp.NewUser {
			fmt.Printf("Welcome! Created user %s\n", resp.UserID)
		} else {
			fmt.Printf("Linked existing user %s\n", resp.UserID)
		}
		fmt.Printf("Connection %s (%s) is ready to sync.\n", resp.ConnectionID, resp.Provider)
		return nil
	},
}

func init() {
	authLoginCmd.Flags().String("state", "", "opaque state passed through the OAuth flow")
	authCmd.AddCommand(authLoginCmd, authCallbackCmd)
}
