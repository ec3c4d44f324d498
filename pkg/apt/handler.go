package apt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/morezero/guest-agent/pkg/dispatcher"
	"github.com/morezero/guest-agent/pkg/semver"
)

const handlerLogPrefix = "apt:handler"

// Method names recognized by Handler.
const (
	MethodInstall = "install"
	MethodRemove  = "remove"
	MethodVersion = "version"
	MethodUpgrade = "upgrade"
)

// MaxTimeout bounds the time_out argument.
const MaxTimeout = 24 * time.Hour

type packageArgs struct {
	PackageName string `json:"package_name"`
	// TimeOut is in seconds.
	TimeOut    float64 `json:"time_out"`
	Constraint string  `json:"constraint"`
}

func (a packageArgs) timeout() time.Duration {
	return time.Duration(a.TimeOut * float64(time.Second))
}

// Handler answers the package-management methods.
type Handler struct {
	guest        *Guest
	agentPackage string
}

// NewHandler creates a Handler. agentPackage is the package installed by "upgrade".
func NewHandler(guest *Guest, agentPackage string) *Handler {
	return &Handler{guest: guest, agentPackage: agentPackage}
}

// Handle implements dispatcher.Handler.
func (h *Handler) Handle(ctx context.Context, cmd *dispatcher.Command) (any, bool, error) {
	switch cmd.Method {
	case MethodInstall:
		res, err := h.install(ctx, cmd)
		return res, true, err
	case MethodRemove:
		res, err := h.remove(ctx, cmd)
		return res, true, err
	case MethodVersion:
		res, err := h.version(ctx, cmd)
		return res, true, err
	case MethodUpgrade:
		res, err := h.upgrade(ctx)
		return res, true, err
	default:
		return nil, false, nil
	}
}

func (h *Handler) decode(cmd *dispatcher.Command) (packageArgs, error) {
	var args packageArgs
	if err := cmd.DecodeArgs(&args); err != nil {
		return args, err
	}
	if args.PackageName == "" {
		return args, dispatcher.InvalidArgument("package_name is required")
	}
	if err := ValidatePackageName(args.PackageName); err != nil {
		return args, dispatcher.InvalidArgument(err.Error())
	}
	if args.TimeOut < 0 {
		return args, dispatcher.InvalidArgument("time_out must not be negative")
	}
	if args.TimeOut > MaxTimeout.Seconds() {
		return args, dispatcher.InvalidArgument(fmt.Sprintf("time_out must not exceed %.0f seconds", MaxTimeout.Seconds()))
	}
	return args, nil
}

func (h *Handler) install(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	args, err := h.decode(cmd)
	if err != nil {
		return nil, err
	}
	version, err := h.guest.Install(ctx, args.PackageName, args.timeout())
	if err != nil {
		return nil, err
	}
	return map[string]any{"package": args.PackageName, "version": version}, nil
}

func (h *Handler) remove(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	args, err := h.decode(cmd)
	if err != nil {
		return nil, err
	}
	if err := h.guest.Remove(ctx, args.PackageName, args.timeout()); err != nil {
		return nil, err
	}
	return map[string]any{"package": args.PackageName, "removed": true}, nil
}

func (h *Handler) version(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	args, err := h.decode(cmd)
	if err != nil {
		return nil, err
	}
	version, installed, err := h.guest.Version(ctx, args.PackageName)
	if err != nil {
		return nil, err
	}

	result := map[string]any{"package": args.PackageName, "version": nil}
	if installed {
		result["version"] = version
	}
	if args.Constraint != "" {
		satisfies := false
		if installed {
			satisfies, err = semver.Satisfies(version, args.Constraint)
			if err != nil {
				return nil, dispatcher.InvalidArgument(err.Error())
			}
		}
		result["satisfies"] = satisfies
	}
	return result, nil
}

// upgrade reinstalls the agent's own package. The running process keeps serving; the new
// binary takes effect when the service manager restarts it.
func (h *Handler) upgrade(ctx context.Context) (any, error) {
	if h.agentPackage == "" {
		return nil, errors.New("no agent package configured")
	}
	before, _, err := h.guest.Version(ctx, h.agentPackage)
	if err != nil {
		return nil, err
	}
	after, err := h.guest.Install(ctx, h.agentPackage, 0)
	if err != nil {
		return nil, err
	}

	upgraded := before == ""
	if !upgraded {
		if cmp, err := semver.Compare(before, after); err == nil {
			upgraded = cmp < 0
		} else {
			upgraded = before != after
		}
	}
	slog.Info(fmt.Sprintf("%s - Agent package %s: %q -> %q", handlerLogPrefix, h.agentPackage, before, after))
	return map[string]any{
		"package":  h.agentPackage,
		"previous": before,
		"version":  after,
		"upgraded": upgraded,
	}, nil
}
