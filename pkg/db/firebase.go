package db

import (
	"context"
	"fmt"

	firebase "firebase.google.com/go/v4"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/shiva/unipool/config"
)

// NewFirebaseApp initialises the Firebase Admin SDK. A credentials file is
// used when configured; otherwise application-default credentials apply
// (GOOGLE_APPLICATION_CREDENTIALS, or the metadata server on GCP).
func NewFirebaseApp(ctx context.Context, cfg config.FirebaseConfig, log *zap.Logger) (*firebase.App, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: new app: %w", err)
	}

	log.Info("firebase initialised",
		zap.String("project", cfg.ProjectID),
		zap.Bool("credentials_file", cfg.CredentialsFile != ""))
	return app, nil
}
