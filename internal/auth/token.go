package auth

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// Scopes for the Google APIs this service talks to.
const (
	ScopeCloudPlatform = "https://www.googleapis.com/auth/cloud-platform"
	ScopeSpreadsheets  = "https://www.googleapis.com/auth/spreadsheets"
)

// ServiceAccountTokenSource builds an OAuth2 token source from a service
// account key file. Tokens are cached and refreshed by the source itself.
func ServiceAccountTokenSource(ctx context.Context, keyFile string, scopes ...string) (oauth2.TokenSource, error) {
	data, err := os.ReadFile(keyFile)
	if err != nil {
		return nil, fmt.Errorf("cannot read service account file: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, scopes...)
	if err != nil {
		return nil, fmt.Errorf("invalid service account credentials: %w", err)
	}
	return creds.TokenSource, nil
}
