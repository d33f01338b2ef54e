package cache

import "fmt"

// AssetKey addresses a downloaded result image of a compute job.
func AssetKey(jobID, assetType string) string {
	return fmt.Sprintf("asset:%s:%s", jobID, assetType)
}

func JobSnapshotKey(jobID string) string {
	return fmt.Sprintf("job:%s", jobID)
}

func RateLimitKey(keyPrefix string) string {
	return fmt.Sprintf("ratelimit:%s", keyPrefix)
}
