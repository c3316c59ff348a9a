package storage

import (
	"fmt"
	"strings"
)

// ObjectLocation describes where a blob should live.
type ObjectLocation struct {
	Bucket   string
	FullPath string
}

// ResolveObjectLocation combines the environment prefix and a logical key into a bucket/path pair.
//   - bucket must come from deployment configuration (one bucket per environment class).
//   - envPrefix is the environment key such as "dev" or "prod"; a trailing slash is optional.
//   - logicalKey is relative to the environment, for example
//     "<customer_uuid>/migrations/<task_uuid>.json".
func ResolveObjectLocation(envPrefix, bucket, logicalKey string) (ObjectLocation, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ObjectLocation{}, fmt.Errorf("bucket is required")
	}
	key := strings.TrimPrefix(strings.TrimSpace(logicalKey), "/")
	if key == "" {
		return ObjectLocation{}, fmt.Errorf("logical key is required")
	}
	if strings.Contains(key, "..") {
		return ObjectLocation{}, fmt.Errorf("logical key must not contain '..'")
	}

	prefix := strings.Trim(strings.TrimSpace(envPrefix), "/")
	if prefix == "" {
		return ObjectLocation{}, fmt.Errorf("environment prefix is missing")
	}

	return ObjectLocation{Bucket: bucket, FullPath: prefix + "/" + key}, nil
}
