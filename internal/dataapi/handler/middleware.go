package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tabular/tabular-backend/internal/iam"
	"github.com/tabular/tabular-backend/pkg/errors"
	"github.com/tabular/tabular-backend/pkg/httputil"
	"github.com/tabular/tabular-backend/pkg/logger"
	"github.com/tabular/tabular-backend/pkg/tenant"
)

// OwnershipChecker reports whether a user owns a tenant
type OwnershipChecker interface {
	Exists(ctx context.Context, tenantID, userID string) (bool, error)
}

// Tenant identity headers
const (
	HeaderTenantID       = "x-tenant-id"
	HeaderTenantSchema   = "x-tenant-schema"
	HeaderSubjectOwnerID = "x-subject-owner-id"
	HeaderRowOwnerID     = "x-row-owner-id"
)

// APIVersion rejects any {version} path segment other than v1
func APIVersion(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "version") != "v1" {
			httputil.Error(w, errors.UnsupportedAPIVersion())
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Auth authenticates the bearer token, resolves the tenant headers, and
// enforces tenant ownership. Every data-API route sits behind it. Only
// the Bearer scheme is accepted; the principal must own the tenant the
// request targets.
func Auth(verifier iam.Verifier, ownerships OwnershipChecker, log *logger.Logger) func(http.Handler) http.Handler {
	authLog := log.WithComponent("auth_middleware")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				httputil.Error(w, errors.MissingAuthentication())
				return
			}

			token, ok := bearerToken(header)
			if !ok {
				httputil.Error(w, errors.InvalidAuthentication())
				return
			}

			principal, err := verifier.VerifyAccessToken(r.Context(), token)
			if err != nil {
				httputil.Error(w, err)
				return
			}

			tenantID := strings.TrimSpace(r.Header.Get(HeaderTenantID))
			if tenantID == "" {
				httputil.Error(w, errors.InvalidTenantID())
				return
			}
			if _, err := uuid.Parse(tenantID); err != nil {
				httputil.Error(w, errors.InvalidTenantID())
				return
			}

			owns, err := ownerships.Exists(r.Context(), tenantID, principal.SubjectID)
			if err != nil {
				authLog.Error().Err(err).Str("tenant_id", tenantID).Msg("ownership lookup failed")
				httputil.Error(w, errors.Infrastructure(err))
				return
			}
			if !owns {
				httputil.Error(w, errors.AccessDenied("principal does not own tenant"))
				return
			}

			rc := tenant.RequestContext{
				TenantID:       tenantID,
				SchemaName:     schemaName(r),
				PrincipalID:    principal.SubjectID,
				RequestID:      httputil.GetRequestID(r.Context()),
				SubjectOwnerID: strings.TrimSpace(r.Header.Get(HeaderSubjectOwnerID)),
				RowOwnerID:     strings.TrimSpace(r.Header.Get(HeaderRowOwnerID)),
			}

			next.ServeHTTP(w, r.WithContext(tenant.WithRequestContext(r.Context(), rc)))
		})
	}
}

// bearerToken extracts the token from a "Bearer <token>" header
func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}
	return token, true
}

func schemaName(r *http.Request) string {
	if schema := strings.TrimSpace(r.Header.Get(HeaderTenantSchema)); schema != "" {
		return schema
	}
	return "public"
}
