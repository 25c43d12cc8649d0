package objectstore

import (
	"fmt"
	"path"
	"regexp"
	"time"
)

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// BuildDocumentPath is the archive key of one knowledge-base build.
func BuildDocumentPath(connectionID string, builtAt time.Time) (string, error) {
	return buildArtifactPath(connectionID, builtAt, "knowledge", "md")
}

func BuildVectorSnapshotPath(connectionID string, builtAt time.Time) (string, error) {
	return buildArtifactPath(connectionID, builtAt, "embeddings", "parquet")
}

// LatestDocumentPath always holds the most recent document for a connection.
func LatestDocumentPath(connectionID string) (string, error) {
	if err := validatePathComponent(connectionID, "connection id"); err != nil {
		return "", err
	}
	return path.Join("connections", connectionID, "knowledge", "latest.md"), nil
}

func buildArtifactPath(connectionID string, builtAt time.Time, kind, ext string) (string, error) {
	if err := validatePathComponent(connectionID, "connection id"); err != nil {
		return "", err
	}
	ts := builtAt.UTC()
	return path.Join(
		"connections",
		connectionID,
		kind,
		fmt.Sprintf("date=%04d-%02d-%02d", ts.Year(), ts.Month(), ts.Day()),
		fmt.Sprintf("build-%d.%s", ts.UnixMilli(), ext),
	), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
