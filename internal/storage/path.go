package storage

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

var (
	pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9@._-]{0,127}$`)
	extensionPattern     = regexp.MustCompile(`^[a-z0-9]{1,16}$`)
)

// BuildDatasetObjectPath returns <owner>/datasets/<dataset>/source.<ext>.
func BuildDatasetObjectPath(ownerID, datasetID, ext string) (string, error) {
	if err := ValidatePathComponent(ownerID, "owner id"); err != nil {
		return "", err
	}
	if err := ValidatePathComponent(datasetID, "dataset id"); err != nil {
		return "", err
	}
	ext = strings.ToLower(strings.TrimPrefix(ext, "."))
	if !extensionPattern.MatchString(ext) {
		return "", fmt.Errorf("invalid extension: %q", ext)
	}
	return path.Join(ownerID, "datasets", datasetID, "source."+ext), nil
}

func ValidatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) {
		return fmt.Errorf("%w: %s %q", ErrInvalidPathComponent, field, value)
	}
	return nil
}
