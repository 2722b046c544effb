package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mazuri-stores/mazuri-api/internal/auth"
)

var tokenEmail string

var tokenCmd = &cobra.Command{
	Use:   "token [user-id]",
	Short: "Issue a development access token",
	Long:  `Issue a signed JWT for the given user id using the configured secret, for calling the payment API locally`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || userID <= 0 {
			return fmt.Errorf("invalid user id %q", args[0])
		}

		cfg, err := loadConfig(".")
		if err != nil {
			return err
		}

		tokens := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret, cfg.Security.AccessTokenDuration)
		token, err := tokens.GenerateAccessToken(userID, tokenEmail)
		if err != nil {
			return fmt.Errorf("generate token: %w", err)
		}

		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenEmail, "email", "", "Email claim to embed")
	rootCmd.AddCommand(tokenCmd)
}
