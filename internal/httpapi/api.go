// Package httpapi is the HTTP surface over the security core: login,
// invitation issuance/validation, and the privileged admin operations
// (rate-limit overrides, secret rotation, role management), each gated by
// the rate limiter and RBAC.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"alumnihub.org/internal/auth"
	"alumnihub.org/internal/obs"
	"alumnihub.org/internal/ratelimit"
	"alumnihub.org/internal/rbac"
	"alumnihub.org/internal/secrets"
	"alumnihub.org/internal/token"
)

// ReadyProbe checks external dependencies for /readyz.
type ReadyProbe struct {
	DB   *sql.DB
	Ping func(ctx context.Context) error // redis ping, optional
}

// Check reports readiness of the configured dependencies.
func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB != nil {
		if err := rp.DB.PingContext(ctx); err != nil {
			return err
		}
	}
	if rp.Ping != nil {
		return rp.Ping(ctx)
	}
	return nil
}

// AdminCredential is the bootstrap operator login verified on
// /v1/auth/token. The hash is bcrypt.
type AdminCredential struct {
	Email        string
	PasswordHash string
	UserID       string
}

// Deps carries the constructed core services.
type Deps struct {
	Sessions *auth.Sessions
	Limiter  *ratelimit.Limiter
	Tokens   *token.Service
	Keyring  *secrets.Keyring
	RBAC     *rbac.Service

	Ready   ReadyProbe
	Admin   AdminCredential
	Version string
}

// API is the HTTP layer.
type API struct {
	mux      *http.ServeMux
	sessions *auth.Sessions
	limiter  *ratelimit.Limiter
	tokens   *token.Service
	keyring  *secrets.Keyring
	rbac     *rbac.Service

	readyProbe ReadyProbe
	admin      AdminCredential
	version    string
}

// New wires routes over the supplied services.
func New(deps Deps) *API {
	a := &API{
		mux:        http.NewServeMux(),
		sessions:   deps.Sessions,
		limiter:    deps.Limiter,
		tokens:     deps.Tokens,
		keyring:    deps.Keyring,
		rbac:       deps.RBAC,
		readyProbe: deps.Ready,
		admin:      deps.Admin,
		version:    deps.Version,
	}

	// health/ready/info
	a.mux.HandleFunc("/healthz", a.handleHealthz)
	a.mux.HandleFunc("/readyz", a.handleReadyz)
	a.mux.HandleFunc("/v1/info", a.handleInfo)

	// Prometheus metrics
	a.mux.Handle("/metrics", obs.Handler())

	// authentication + invitations
	a.mux.HandleFunc("/v1/auth/token", a.handleLogin)
	a.mux.HandleFunc("/v1/invitations", a.handleCreateInvitation)
	a.mux.HandleFunc("/v1/invitations/validate", a.handleValidateInvitation)

	// admin surface
	a.mux.HandleFunc("/v1/admin/ratelimits/", a.handleRateLimitScoped)
	a.mux.HandleFunc("/v1/admin/secrets", a.handleSecretMetadata)
	a.mux.HandleFunc("/v1/admin/secrets/rotate", a.handleSecretRotate)
	a.mux.HandleFunc("/v1/admin/roles", a.handleRoles)
	a.mux.HandleFunc("/v1/admin/roles/", a.handleRoleScoped)
	a.mux.HandleFunc("/v1/admin/users/", a.handleUserScoped)

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped handler for the server.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	h = a.withAuth(h)
	h = MaxBodyBytes(h, 1<<20)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = PerIPRateLimit(h, 20, 50)
	h = RequestID(h)
	h = Logging(h)
	h = obs.Instrument(h)
	return h
}
