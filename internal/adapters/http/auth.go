package httpadapter

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/quibitai/qubit-orchestrator/internal/core/domain"
)

// StaticSessionResolver validates a single shared API key. When anonymous
// access is allowed (non-production), a missing or invalid token resolves to
// a test-mode fallback identity instead of failing the request.
type StaticSessionResolver struct {
	apiKey         string
	allowAnonymous bool
}

func NewStaticSessionResolver(apiKey string, allowAnonymous bool) *StaticSessionResolver {
	return &StaticSessionResolver{apiKey: apiKey, allowAnonymous: allowAnonymous}
}

func (r *StaticSessionResolver) Resolve(_ context.Context, bearerToken string) (domain.Session, error) {
	token := strings.TrimSpace(bearerToken)

	if r.apiKey != "" && token != "" {
		if subtle.ConstantTimeCompare([]byte(token), []byte(r.apiKey)) == 1 {
			return domain.Session{UserID: "api-user", ClientID: "api"}, nil
		}
	}

	if r.allowAnonymous {
		return domain.Session{UserID: "local-user", ClientID: "dev", TestMode: true}, nil
	}
	return domain.Session{}, domain.WrapError(domain.ErrUnauthorized, "resolve session", fmt.Errorf("missing or invalid bearer token"))
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
