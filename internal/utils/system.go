package utils

import (
	"os/user"
	"regexp"
	"strings"
)

var (
	unsafeNameChars = regexp.MustCompile(`[^a-z0-9._\-]`)
	repeatedHyphens = regexp.MustCompile(`-+`)
)

// GetUsername returns the current username.
func GetUsername() (string, error) {
	user, err := user.Current()
	if err != nil {
		return "", err
	}
	return user.Username, nil
}

// SanitizeName makes a string safe to embed in a filename: lowercase,
// spaces become hyphens, anything outside [a-z0-9._-] is dropped.
func SanitizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ToLower(name)
	name = strings.ReplaceAll(name, " ", "-")
	name = unsafeNameChars.ReplaceAllString(name, "")
	name = repeatedHyphens.ReplaceAllString(name, "-")
	name = strings.Trim(name, "-.")

	if name == "" {
		name = "file"
	}

	return name
}
