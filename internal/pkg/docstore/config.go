package docstore

import (
	"errors"
	"fmt"
	"time"

	"github.com/DraftDeskHQ/DraftDesk/internal/pkg/env"
)

// Config holds deliverable storage configuration
type Config struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	BucketName      string
	EndpointURL     string // Optional for S3-compatible services
	LocalDir        string // Fallback directory when S3 is disabled
	Enabled         bool
}

// LoadConfig loads docstore configuration from environment variables
func LoadConfig() (*Config, error) {
	config := &Config{
		AccessKeyID:     env.GetEnv("DOCSTORE_ACCESS_KEY_ID", ""),
		SecretAccessKey: env.GetEnv("DOCSTORE_SECRET_ACCESS_KEY", ""),
		Region:          env.GetEnv("DOCSTORE_REGION", "eu-central-1"),
		BucketName:      env.GetEnv("DOCSTORE_BUCKET_NAME", ""),
		EndpointURL:     env.GetEnv("DOCSTORE_ENDPOINT_URL", ""),
		LocalDir:        env.GetEnv("DOCSTORE_LOCAL_DIR", "./deliverables"),
		Enabled:         env.GetEnv("DOCSTORE_ENABLED", "false") == "true",
	}

	if config.Enabled {
		if config.AccessKeyID == "" {
			return nil, errors.New("DOCSTORE_ACCESS_KEY_ID is required when the docstore is enabled")
		}
		if config.SecretAccessKey == "" {
			return nil, errors.New("DOCSTORE_SECRET_ACCESS_KEY is required when the docstore is enabled")
		}
		if config.BucketName == "" {
			return nil, errors.New("DOCSTORE_BUCKET_NAME is required when the docstore is enabled")
		}
	}

	return config, nil
}

// IsEnabled returns true if the S3-backed docstore is enabled
func (c *Config) IsEnabled() bool {
	return c.Enabled
}

// DraftKey generates the canonical object key for an internal draft.
// Format: drafts/YYYY/MM/ORDER_NO/filename
func DraftKey(orderNo, fileName string, at time.Time) string {
	return objectKey("drafts", orderNo, fileName, at)
}

// DeliverableKey generates the canonical object key for a final deliverable.
// Format: deliverables/YYYY/MM/ORDER_NO/filename
func DeliverableKey(orderNo, fileName string, at time.Time) string {
	return objectKey("deliverables", orderNo, fileName, at)
}

func objectKey(kind, orderNo, fileName string, at time.Time) string {
	return fmt.Sprintf("%s/%04d/%02d/%s/%s", kind, at.Year(), int(at.Month()), orderNo, fileName)
}

// GetAppEnv returns the current application environment
func GetAppEnv() string {
	return env.GetEnv("APP_ENV", "dev")
}
