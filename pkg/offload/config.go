package offload

import (
	"fmt"

	"github.com/shuttleup/shuttle/internal/bytesize"
)

// Default values for optional fields.
const (
	DefaultRegion   = "us-east-1"
	DefaultPartSize = bytesize.ByteSize(8 * bytesize.MiB)
)

// S3 multipart limits. Parts below the minimum are rejected by S3 for
// every part except the last.
const (
	MinPartSize = bytesize.ByteSize(5 * bytesize.MiB)
	MaxPartSize = bytesize.ByteSize(5 * bytesize.GiB)
)

// Config configures S3 archival of completed uploads.
//
// When Enabled is false the archiver is a no-op and no AWS client is
// constructed. Credentials may be left empty to use the ambient AWS
// credential chain (environment, instance profile).
type Config struct {
	// Enabled controls whether completed uploads are archived to S3
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Endpoint overrides the S3 endpoint for S3-compatible storage
	// (MinIO, localstack). Empty uses AWS.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint,omitempty"`

	// Region is the S3 region
	// Default: us-east-1
	Region string `mapstructure:"region" yaml:"region"`

	// Bucket is the destination bucket (required when enabled)
	Bucket string `mapstructure:"bucket" yaml:"bucket,omitempty"`

	// KeyPrefix is prepended to every object key
	// Example: "uploads/" results in keys like "uploads/<id>.bin"
	KeyPrefix string `mapstructure:"key_prefix" yaml:"key_prefix,omitempty"`

	// AccessKeyID and SecretAccessKey are static credentials.
	// Leave both empty to use the default AWS credential chain.
	AccessKeyID     string `mapstructure:"access_key_id" yaml:"access_key_id,omitempty"`
	SecretAccessKey string `mapstructure:"secret_access_key" yaml:"secret_access_key,omitempty"`

	// ForcePathStyle uses path-style addressing (required by most
	// S3-compatible servers)
	// Default: true
	ForcePathStyle bool `mapstructure:"force_path_style" yaml:"force_path_style"`

	// PartSize is the multipart upload part size.
	// Must be between 5MiB and 5GiB. Default: 8MiB.
	PartSize bytesize.ByteSize `mapstructure:"part_size" yaml:"part_size"`
}

// ApplyDefaults fills in missing configuration with default values.
func (c *Config) ApplyDefaults() {
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.PartSize == 0 {
		c.PartSize = DefaultPartSize
	}
}

// Validate checks the configuration. Disabled configs are always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	if c.Bucket == "" {
		return fmt.Errorf("offload bucket is required when offload is enabled")
	}
	if c.PartSize < MinPartSize {
		return fmt.Errorf("offload part_size must be at least %s, got %s", MinPartSize, c.PartSize)
	}
	if c.PartSize > MaxPartSize {
		return fmt.Errorf("offload part_size must be at most %s, got %s", MaxPartSize, c.PartSize)
	}

	return nil
}
