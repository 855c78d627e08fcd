package core

import (
	"context"
	"log/slog"
	"sync"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/cockroachdb/errors"
)

// Baseline capabilities every import dispatch requires.
const (
	CapUploadFiles = "upload_files"
	CapEditPosts   = "edit_posts"
)

// Subjects hold capabilities directly or through roles.
const defaultModel = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[role_definition]
g = _, _

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = g(r.sub, p.sub) && r.act == p.act
`

const defaultPolicy = `
p, administrator, upload_files
p, administrator, edit_posts
p, administrator, import_raw_rows
p, editor, upload_files
p, editor, edit_posts
p, author, upload_files
`

// AccessChecker decides whether subject may use an importer.
type AccessChecker interface {
	CheckAccess(ctx context.Context, subject string, imp *Importer) error
}

// AuthzOptions configures NewAuthorizer. ModelPath and PolicyPath load a
// casbin model and CSV policy from disk; when empty the built-in
// capability model is used. Roles assigns subject -> role.
type AuthzOptions struct {
	ModelPath  string
	PolicyPath string
	Roles      map[string]string
	Logger     *slog.Logger
}

// Authorizer enforces importer capabilities with casbin.
type Authorizer struct {
	mu       sync.RWMutex
	enforcer *casbin.Enforcer
	logger   *slog.Logger
}

// NewAuthorizer builds the enforcer and applies role assignments.
func NewAuthorizer(opts AuthzOptions) (*Authorizer, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		enf *casbin.Enforcer
		err error
	)
	if opts.ModelPath != "" {
		enf, err = casbin.NewEnforcer(opts.ModelPath, fileadapter.NewAdapter(opts.PolicyPath))
	} else {
		var m model.Model
		m, err = model.NewModelFromString(defaultModel)
		if err != nil {
			return nil, errors.Wrap(err, "authz: parse built-in model")
		}
		enf, err = casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
	}
	if err != nil {
		return nil, errors.Wrap(err, "authz: failed to initialize enforcer")
	}
	if err := enf.LoadPolicy(); err != nil {
		return nil, errors.Wrap(err, "authz: failed to load policies")
	}

	a := &Authorizer{enforcer: enf, logger: logger.With("component", "authz")}
	for subject, role := range opts.Roles {
		if err := a.Grant(subject, role); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Grant assigns role to subject in memory.
func (a *Authorizer) Grant(subject, role string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, err := a.enforcer.AddRoleForUser(subject, role); err != nil {
		return errors.Wrapf(err, "authz: grant %s to %s", role, subject)
	}
	return nil
}

// Can reports whether subject holds one capability.
func (a *Authorizer) Can(subject, capability string) (bool, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ok, err := a.enforcer.Enforce(subject, capability)
	if err != nil {
		return false, errors.Wrap(err, "authz: enforce failed")
	}
	return ok, nil
}

// RequiredCapabilities lists what using imp takes: its own capability
// plus the upload and edit baselines. The default capability is only a
// name for those two.
func RequiredCapabilities(imp *Importer) []string {
	caps := []string{CapUploadFiles, CapEditPosts}
	if imp.Capability != "" && imp.Capability != DefaultCapability &&
		imp.Capability != CapUploadFiles && imp.Capability != CapEditPosts {
		caps = append([]string{imp.Capability}, caps...)
	}
	return caps
}

// CheckAccess returns ErrUnauthorized unless subject holds every
// capability imp requires.
func (a *Authorizer) CheckAccess(ctx context.Context, subject string, imp *Importer) error {
	if subject == "" {
		return errors.Wrap(ErrUnauthorized, "no operator identity")
	}

	for _, capability := range RequiredCapabilities(imp) {
		ok, err := a.Can(subject, capability)
		if err != nil {
			return err
		}
		if !ok {
			a.logger.WarnContext(ctx, "authz denied request",
				"subject", subject,
				"importer", imp.Slug,
				"capability", capability,
			)
			return errors.Wrapf(ErrUnauthorized, "%s lacks %s for importer %q", subject, capability, imp.Slug)
		}
	}
	return nil
}
