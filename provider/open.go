package provider

import (
	"context"
	"fmt"
	"strings"
)

// New creates a provider for a source location: s3://bucket/prefix for
// S3-compatible object stores, anything else is a local directory.
func New(ctx context.Context, location string, s3opts S3Options) (Provider, error) {
	if rest, ok := strings.CutPrefix(location, "s3://"); ok {
		bucket, prefix, _ := strings.Cut(rest, "/")
		if bucket == "" {
			return nil, fmt.Errorf("invalid s3 location %q: missing bucket", location)
		}
		return NewS3Provider(ctx, bucket, prefix, s3opts)
	}

	if location == "" {
		return nil, fmt.Errorf("empty source location")
	}
	return NewLocalProvider(location)
}
