package main

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/mikey/mail2cal/internal/adapters/google"
	"github.com/mikey/mail2cal/internal/config"
	"github.com/mikey/mail2cal/internal/di"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

func newGoogleAuthCommand(flags *di.CLIFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "google-auth",
		Short: "Authorize access to Google Calendar and save the token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return invoke(cmd, flags, func(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
				defer logger.Sync()
				googleCfg := cfg.GetGoogle()

				oauthConfig, err := google.LoadOAuthConfig(googleCfg.CredentialsFile)
				if err != nil {
					return err
				}

				authURL := oauthConfig.AuthCodeURL(uuid.NewString(), oauth2.AccessTypeOffline)
				fmt.Fprintf(cmd.ErrOrStderr(), "Go to the following link in your browser then type the authorization code:\n%v\n", authURL)

				var authCode string
				if _, err := fmt.Fscan(cmd.InOrStdin(), &authCode); err != nil {
					return fmt.Errorf("unable to read authorization code: %w", err)
				}

				tok, err := oauthConfig.Exchange(ctx, authCode)
				if err != nil {
					return fmt.Errorf("unable to retrieve token from web: %w", err)
				}

				store := google.NewTokenStore(googleCfg.TokenFile)
				if err := store.Save(tok); err != nil {
					return err
				}
				logger.Info("Saved Google token", zap.String("path", store.Path()))
				return nil
			})
		},
	}
}
