package dbadmin

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/morezero/guest-agent/pkg/dispatcher"
)

const logPrefix = "dbadmin:handler"

// Method names recognized by Handler.
const (
	MethodCreateUser     = "create_user"
	MethodListUsers      = "list_users"
	MethodDeleteUser     = "delete_user"
	MethodCreateDatabase = "create_database"
	MethodListDatabases  = "list_databases"
	MethodDeleteDatabase = "delete_database"
	MethodEnableRoot     = "enable_root"
	MethodDisableRoot    = "disable_root"
	MethodIsRootEnabled  = "is_root_enabled"
	MethodPrepare        = "prepare"
)

// Store runs statements against the local server. db.AdminStore implements it.
type Store interface {
	Exec(ctx context.Context, sql string, args ...any) error
	QueryStrings(ctx context.Context, sql string, args ...any) ([]string, error)
	QueryBool(ctx context.Context, sql string, args ...any) (bool, error)
	QuoteIdentifier(name string) string
	QuoteLiteral(v string) string
}

// Installer installs OS packages. apt.Guest implements it.
type Installer interface {
	Install(ctx context.Context, pkg string, timeout time.Duration) (string, error)
}

// HandlerParams configures a Handler.
type HandlerParams struct {
	Store     Store
	Installer Installer
	// ServerPackage is installed by prepare.
	ServerPackage string
}

// Handler answers the database administration methods.
type Handler struct {
	store         Store
	installer     Installer
	serverPackage string
}

// NewHandler creates a Handler.
func NewHandler(params HandlerParams) *Handler {
	return &Handler{
		store:         params.Store,
		installer:     params.Installer,
		serverPackage: params.ServerPackage,
	}
}

// Handle implements dispatcher.Handler.
func (h *Handler) Handle(ctx context.Context, cmd *dispatcher.Command) (any, bool, error) {
	var fn func(context.Context, *dispatcher.Command) (any, error)
	switch cmd.Method {
	case MethodCreateUser:
		fn = h.createUser
	case MethodListUsers:
		fn = h.listUsers
	case MethodDeleteUser:
		fn = h.deleteUser
	case MethodCreateDatabase:
		fn = h.createDatabase
	case MethodListDatabases:
		fn = h.listDatabases
	case MethodDeleteDatabase:
		fn = h.deleteDatabase
	case MethodEnableRoot:
		fn = h.enableRoot
	case MethodDisableRoot:
		fn = h.disableRoot
	case MethodIsRootEnabled:
		fn = h.isRootEnabled
	case MethodPrepare:
		fn = h.prepare
	default:
		return nil, false, nil
	}
	res, err := fn(ctx, cmd)
	return res, true, err
}

// Database is the wire form of a database reference.
type Database struct {
	Name string `json:"name"`
}

// User is the wire form of a database user.
type User struct {
	Name      string     `json:"name"`
	Password  string     `json:"password,omitempty"`
	Databases []Database `json:"databases"`
}

// createUser validates every user and database name before touching the server. It is not
// atomic: CREATE DATABASE cannot run inside a transaction, so a server error part way leaves
// the users listed in the error in place. Every step is idempotent and the call can be retried.
func (h *Handler) createUser(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	var args struct {
		Users []User `json:"users"`
	}
	if err := cmd.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if len(args.Users) == 0 {
		return nil, dispatcher.InvalidArgument("users is required")
	}
	seen := make(map[string]bool, len(args.Users))
	for _, u := range args.Users {
		if err := validateUserName(u.Name); err != nil {
			return nil, err
		}
		if seen[u.Name] {
			return nil, dispatcher.InvalidArgument(fmt.Sprintf("user %q listed twice", u.Name))
		}
		seen[u.Name] = true
		if u.Password == "" {
			return nil, dispatcher.InvalidArgument(fmt.Sprintf("password is required for user %q", u.Name))
		}
		for _, d := range u.Databases {
			if err := validateDatabaseName(d.Name); err != nil {
				return nil, err
			}
		}
	}

	created := make([]string, 0, len(args.Users))
	for _, u := range args.Users {
		if err := h.createOneUser(ctx, u); err != nil {
			if len(created) > 0 {
				return nil, fmt.Errorf("%w (users already created: %s)", err, strings.Join(created, ", "))
			}
			return nil, err
		}
		slog.Info(fmt.Sprintf("%s - Created user %s", logPrefix, u.Name))
		created = append(created, u.Name)
	}
	return map[string]any{"users": created}, nil
}

func (h *Handler) createOneUser(ctx context.Context, u User) error {
	if err := h.upsertRole(ctx, u.Name, u.Password, "LOGIN"); err != nil {
		return err
	}
	for _, d := range u.Databases {
		if err := h.ensureDatabase(ctx, d.Name); err != nil {
			return err
		}
		grant := fmt.Sprintf("GRANT ALL PRIVILEGES ON DATABASE %s TO %s",
			h.store.QuoteIdentifier(d.Name), h.store.QuoteIdentifier(u.Name))
		if err := h.store.Exec(ctx, grant); err != nil {
			return fmt.Errorf("%s - grant %s on %s: %w", logPrefix, u.Name, d.Name, err)
		}
	}
	return nil
}

func (h *Handler) listUsers(ctx context.Context, _ *dispatcher.Command) (any, error) {
	names, err := h.store.QueryStrings(ctx, `
		SELECT rolname FROM pg_roles
		WHERE rolcanlogin AND rolname <> ALL($1) AND rolname NOT LIKE 'pg\_%'
		ORDER BY rolname`, hiddenRoles())
	if err != nil {
		return nil, fmt.Errorf("%s - list users: %w", logPrefix, err)
	}

	users := make([]User, 0, len(names))
	for _, name := range names {
		dbs, err := h.store.QueryStrings(ctx, `
			SELECT datname FROM pg_database
			WHERE NOT datistemplate AND datname <> 'postgres'
			  AND has_database_privilege($1, datname, 'CREATE')
			ORDER BY datname`, name)
		if err != nil {
			return nil, fmt.Errorf("%s - list databases of %s: %w", logPrefix, name, err)
		}
		u := User{Name: name, Databases: make([]Database, 0, len(dbs))}
		for _, d := range dbs {
			u.Databases = append(u.Databases, Database{Name: d})
		}
		users = append(users, u)
	}
	return users, nil
}

func (h *Handler) deleteUser(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	var args struct {
		User User `json:"user"`
	}
	if err := cmd.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if err := validateUserName(args.User.Name); err != nil {
		return nil, err
	}
	if err := h.store.Exec(ctx, "DROP ROLE IF EXISTS "+h.store.QuoteIdentifier(args.User.Name)); err != nil {
		return nil, fmt.Errorf("%s - drop user %s: %w", logPrefix, args.User.Name, err)
	}
	slog.Info(fmt.Sprintf("%s - Deleted user %s", logPrefix, args.User.Name))
	return map[string]any{"user": args.User.Name, "deleted": true}, nil
}

func (h *Handler) createDatabase(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	var args struct {
		Databases []Database `json:"databases"`
	}
	if err := cmd.DecodeArgs(&args); err != nil {
		return nil, err
	}
	names, err := h.createDatabases(ctx, args.Databases)
	if err != nil {
		return nil, err
	}
	return map[string]any{"databases": names}, nil
}

func (h *Handler) createDatabases(ctx context.Context, dbs []Database) ([]string, error) {
	if len(dbs) == 0 {
		return nil, dispatcher.InvalidArgument("databases is required")
	}
	for _, d := range dbs {
		if err := validateDatabaseName(d.Name); err != nil {
			return nil, err
		}
	}
	names := make([]string, 0, len(dbs))
	for _, d := range dbs {
		if err := h.ensureDatabase(ctx, d.Name); err != nil {
			return nil, err
		}
		names = append(names, d.Name)
	}
	return names, nil
}

func (h *Handler) ensureDatabase(ctx context.Context, name string) error {
	exists, err := h.store.QueryBool(ctx, `SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)`, name)
	if err != nil {
		return fmt.Errorf("%s - check database %s: %w", logPrefix, name, err)
	}
	if exists {
		return nil
	}
	if err := h.store.Exec(ctx, "CREATE DATABASE "+h.store.QuoteIdentifier(name)); err != nil {
		return fmt.Errorf("%s - create database %s: %w", logPrefix, name, err)
	}
	slog.Info(fmt.Sprintf("%s - Created database %s", logPrefix, name))
	return nil
}

func (h *Handler) listDatabases(ctx context.Context, _ *dispatcher.Command) (any, error) {
	names, err := h.store.QueryStrings(ctx, `
		SELECT datname FROM pg_database
		WHERE NOT datistemplate AND datname <> ALL($1)
		ORDER BY datname`, hiddenDatabases())
	if err != nil {
		return nil, fmt.Errorf("%s - list databases: %w", logPrefix, err)
	}
	dbs := make([]Database, 0, len(names))
	for _, n := range names {
		dbs = append(dbs, Database{Name: n})
	}
	return dbs, nil
}

func (h *Handler) deleteDatabase(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	var args struct {
		Database Database `json:"database"`
	}
	if err := cmd.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if err := validateDatabaseName(args.Database.Name); err != nil {
		return nil, err
	}
	if err := h.store.Exec(ctx, "DROP DATABASE IF EXISTS "+h.store.QuoteIdentifier(args.Database.Name)); err != nil {
		return nil, fmt.Errorf("%s - drop database %s: %w", logPrefix, args.Database.Name, err)
	}
	slog.Info(fmt.Sprintf("%s - Deleted database %s", logPrefix, args.Database.Name))
	return map[string]any{"database": args.Database.Name, "deleted": true}, nil
}

func (h *Handler) enableRoot(ctx context.Context, _ *dispatcher.Command) (any, error) {
	password, err := generatePassword()
	if err != nil {
		return nil, err
	}
	if err := h.upsertRole(ctx, RootUser, password, "LOGIN SUPERUSER"); err != nil {
		return nil, err
	}
	slog.Info(fmt.Sprintf("%s - Root access enabled", logPrefix))
	return map[string]any{"name": RootUser, "password": password}, nil
}

func (h *Handler) disableRoot(ctx context.Context, _ *dispatcher.Command) (any, error) {
	exists, err := h.roleExists(ctx, RootUser)
	if err != nil {
		return nil, err
	}
	if exists {
		stmt := "ALTER ROLE " + h.store.QuoteIdentifier(RootUser) + " WITH NOLOGIN NOSUPERUSER PASSWORD NULL"
		if err := h.store.Exec(ctx, stmt); err != nil {
			return nil, fmt.Errorf("%s - disable root: %w", logPrefix, err)
		}
	}
	slog.Info(fmt.Sprintf("%s - Root access disabled", logPrefix))
	return map[string]any{"name": RootUser, "enabled": false}, nil
}

func (h *Handler) isRootEnabled(ctx context.Context, _ *dispatcher.Command) (any, error) {
	enabled, err := h.store.QueryBool(ctx,
		`SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1 AND rolcanlogin)`, RootUser)
	if err != nil {
		return nil, fmt.Errorf("%s - check root: %w", logPrefix, err)
	}
	return enabled, nil
}

// prepare turns a bare guest into a database guest: the server package is installed through
// the shared package manager, then the requested databases are created.
func (h *Handler) prepare(ctx context.Context, cmd *dispatcher.Command) (any, error) {
	var args struct {
		Databases []Database `json:"databases"`
	}
	if err := cmd.DecodeArgs(&args); err != nil {
		return nil, err
	}
	for _, d := range args.Databases {
		if err := validateDatabaseName(d.Name); err != nil {
			return nil, err
		}
	}
	if h.installer == nil || h.serverPackage == "" {
		return nil, fmt.Errorf("%s - no database server package configured", logPrefix)
	}

	version, err := h.installer.Install(ctx, h.serverPackage, 0)
	if err != nil {
		return nil, err
	}

	created := []string{}
	if len(args.Databases) > 0 {
		if created, err = h.createDatabases(ctx, args.Databases); err != nil {
			return nil, err
		}
	}
	slog.Info(fmt.Sprintf("%s - Prepared guest with %s %s", logPrefix, h.serverPackage, version))
	return map[string]any{
		"package":   h.serverPackage,
		"version":   version,
		"databases": created,
	}, nil
}

func (h *Handler) roleExists(ctx context.Context, name string) (bool, error) {
	exists, err := h.store.QueryBool(ctx, `SELECT EXISTS (SELECT 1 FROM pg_roles WHERE rolname = $1)`, name)
	if err != nil {
		return false, fmt.Errorf("%s - check role %s: %w", logPrefix, name, err)
	}
	return exists, nil
}

// upsertRole creates the role or, if it exists, resets its password and attributes.
func (h *Handler) upsertRole(ctx context.Context, name, password, attrs string) error {
	exists, err := h.roleExists(ctx, name)
	if err != nil {
		return err
	}
	verb := "CREATE ROLE"
	if exists {
		verb = "ALTER ROLE"
	}
	stmt := fmt.Sprintf("%s %s WITH %s PASSWORD %s",
		verb, h.store.QuoteIdentifier(name), attrs, h.store.QuoteLiteral(password))
	if err := h.store.Exec(ctx, stmt); err != nil {
		return fmt.Errorf("%s - %s %s: %w", logPrefix, verb, name, err)
	}
	return nil
}

func hiddenRoles() []string {
	return []string{"postgres", RootUser}
}

func hiddenDatabases() []string {
	names := make([]string, 0, len(systemNames))
	for n := range systemNames {
		names = append(names, n)
	}
	return names
}
