package storage

import (
	"context"
	"strings"

	appconfig "github.com/fedutinova/stockrank/internal/config"
)

// NewStorage returns the configured report archive, or nil when archiving
// is switched off.
func NewStorage(ctx context.Context, cfg appconfig.Config) (Storage, error) {
	switch strings.ToLower(cfg.ReportMode) {
	case "s3", "aws", "localstack":
		return NewS3Storage(ctx, cfg)
	case "none", "off", "disabled":
		return nil, nil
	default:
		return NewLocalStorage(cfg.LocalReportDir)
	}
}

func GetStorageType(cfg appconfig.Config) string {
	switch strings.ToLower(cfg.ReportMode) {
	case "s3", "aws", "localstack":
		if isLocalStack(cfg.S3Endpoint) {
			return "LocalStack S3"
		}
		return "AWS S3"
	case "none", "off", "disabled":
		return "Disabled"
	case "local", "filesystem":
		return "Local Filesystem"
	default:
		return "Local Filesystem (default)"
	}
}

func isLocalStack(endpoint string) bool {
	return endpoint != "" && (strings.Contains(endpoint, "localstack") || strings.Contains(endpoint, "4566"))
}
