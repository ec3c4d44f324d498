// Package dbadmin administers the guest's local PostgreSQL server on behalf of the control plane.
package dbadmin

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"regexp"

	"github.com/morezero/guest-agent/pkg/dispatcher"
)

const namesLogPrefix = "dbadmin:names"

// RootUser is the role managed by enable_root and disable_root.
const RootUser = "root"

var nameRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]{0,62}$`)

// systemNames are hidden from listings and may not be created or dropped through the agent.
var systemNames = map[string]bool{
	"postgres":  true,
	"template0": true,
	"template1": true,
}

func validateName(kind, name string) error {
	if name == "" {
		return dispatcher.InvalidArgument(kind + " name is required")
	}
	if !nameRegex.MatchString(name) {
		return dispatcher.InvalidArgument(fmt.Sprintf("invalid %s name %q", kind, name))
	}
	return nil
}

func validateUserName(name string) error {
	if err := validateName("user", name); err != nil {
		return err
	}
	if systemNames[name] || name == RootUser {
		return dispatcher.InvalidArgument(fmt.Sprintf("user %q is reserved", name))
	}
	return nil
}

func validateDatabaseName(name string) error {
	if err := validateName("database", name); err != nil {
		return err
	}
	if systemNames[name] {
		return dispatcher.InvalidArgument(fmt.Sprintf("database %q is reserved", name))
	}
	return nil
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s - generate password: %w", namesLogPrefix, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
