package apt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

const logPrefix = "apt:guest"

const defaultTimeout = 10 * time.Minute

var packageNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9+.-]+$`)

// ErrInvalidPackageName is returned for names dpkg would not accept.
var ErrInvalidPackageName = errors.New("invalid package name")

// ValidatePackageName checks name against the Debian package naming rules.
func ValidatePackageName(name string) error {
	if !packageNameRegex.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidPackageName, name)
	}
	return nil
}

// GuestParams configures a Guest.
type GuestParams struct {
	Runner  Runner
	UseSudo bool
	// Timeout bounds a single install or remove when the caller gives none.
	Timeout time.Duration
}

// Guest installs, removes and queries packages with apt-get and dpkg-query. It is shared by
// every handler that needs packages, and is only used from the dispatch goroutine.
type Guest struct {
	runner  Runner
	useSudo bool
	timeout time.Duration
}

// NewGuest creates a Guest.
func NewGuest(params GuestParams) *Guest {
	if params.Runner == nil {
		params.Runner = ExecRunner{}
	}
	if params.Timeout <= 0 {
		params.Timeout = defaultTimeout
	}
	return &Guest{runner: params.Runner, useSudo: params.UseSudo, timeout: params.Timeout}
}

// Install installs pkg and returns the version now installed. A timeout of zero uses the
// default.
func (g *Guest) Install(ctx context.Context, pkg string, timeout time.Duration) (string, error) {
	if err := ValidatePackageName(pkg); err != nil {
		return "", err
	}
	ctx, cancel := g.withTimeout(ctx, timeout)
	defer cancel()

	slog.Info(fmt.Sprintf("%s - Installing %s", logPrefix, pkg))
	if _, err := g.aptGet(ctx, "install", "-y", "-q", pkg); err != nil {
		var exitErr *ExitError
		if !errors.As(err, &exitErr) || !strings.Contains(exitErr.Output, "Unable to locate package") {
			return "", fmt.Errorf("%s - install %s: %w", logPrefix, pkg, err)
		}
		// Stale package lists: refresh them once and try again.
		slog.Info(fmt.Sprintf("%s - %s not in package lists, updating", logPrefix, pkg))
		if _, err := g.aptGet(ctx, "update", "-q"); err != nil {
			return "", fmt.Errorf("%s - apt-get update: %w", logPrefix, err)
		}
		if _, err := g.aptGet(ctx, "install", "-y", "-q", pkg); err != nil {
			return "", fmt.Errorf("%s - install %s: %w", logPrefix, pkg, err)
		}
	}

	version, installed, err := g.Version(ctx, pkg)
	if err != nil {
		return "", err
	}
	if !installed {
		return "", fmt.Errorf("%s - %s not installed after apt-get install", logPrefix, pkg)
	}
	slog.Info(fmt.Sprintf("%s - Installed %s %s", logPrefix, pkg, version))
	return version, nil
}

// Remove uninstalls pkg. Removing a package that is not installed succeeds.
func (g *Guest) Remove(ctx context.Context, pkg string, timeout time.Duration) error {
	if err := ValidatePackageName(pkg); err != nil {
		return err
	}
	ctx, cancel := g.withTimeout(ctx, timeout)
	defer cancel()

	slog.Info(fmt.Sprintf("%s - Removing %s", logPrefix, pkg))
	if _, err := g.aptGet(ctx, "remove", "-y", "-q", pkg); err != nil {
		return fmt.Errorf("%s - remove %s: %w", logPrefix, pkg, err)
	}
	return nil
}

// Version returns the installed version of pkg; installed is false when dpkg does not know
// the package or it is not fully installed.
func (g *Guest) Version(ctx context.Context, pkg string) (version string, installed bool, err error) {
	if err := ValidatePackageName(pkg); err != nil {
		return "", false, err
	}
	out, err := g.runner.Run(ctx, nil, "dpkg-query", "-W", "-f=${Status}\t${Version}", pkg)
	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) && exitErr.Code == 1 {
			return "", false, nil
		}
		return "", false, fmt.Errorf("%s - dpkg-query %s: %w", logPrefix, pkg, err)
	}
	return parseDpkgStatus(string(out))
}

// parseDpkgStatus reads "<want> <flag> <status>\t<version>".
func parseDpkgStatus(out string) (string, bool, error) {
	status, version, ok := strings.Cut(strings.TrimSpace(out), "\t")
	if !ok {
		return "", false, fmt.Errorf("%s - unexpected dpkg-query output %q", logPrefix, out)
	}
	fields := strings.Fields(status)
	if len(fields) != 3 || fields[2] != "installed" {
		return "", false, nil
	}
	return strings.TrimSpace(version), true, nil
}

func (g *Guest) aptGet(ctx context.Context, args ...string) ([]byte, error) {
	env := []string{"DEBIAN_FRONTEND=noninteractive"}
	name := "apt-get"
	if g.useSudo {
		args = append([]string{"-E", name}, args...)
		name = "sudo"
	}
	return g.runner.Run(ctx, env, name, args...)
}

func (g *Guest) withTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = g.timeout
	}
	return context.WithTimeout(ctx, timeout)
}
