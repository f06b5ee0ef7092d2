package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/rl1809/stockroom/internal/core/domain"
)

type ctxKey int

const (
	requestIDKey ctxKey = iota
	callerKey
)

const (
	headerRequestID = "X-Request-ID"
	headerOrgID     = "X-Org-ID"
)

// Claims is the JWT payload. OrgID optionally selects one of several memberships.
type Claims struct {
	UserID string `json:"uid"`
	OrgID  string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 bearer tokens issued with a shared secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

func (a *Authenticator) Authenticate(token string) (domain.Caller, error) {
	if token == "" {
		return domain.Caller{}, domain.ErrUnauthenticated
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(*jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Caller{}, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.UserID == "" {
		return domain.Caller{}, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthenticated)
	}
	return domain.Caller{UserID: claims.UserID, OrgID: claims.OrgID}, nil
}

// Issue signs a token for userID valid for ttl.
func (a *Authenticator) Issue(userID, orgID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		OrgID:  orgID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

func withCaller(ctx context.Context, c domain.Caller) context.Context {
	return context.WithValue(ctx, callerKey, c)
}

// CallerFrom returns the authenticated caller stored on ctx.
func CallerFrom(ctx context.Context) domain.Caller {
	c, _ := ctx.Value(callerKey).(domain.Caller)
	return c
}

func requestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

func RequestID() mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func Logger(logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			fields := []zap.Field{
				zap.Int("status", rec.status),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("query", r.URL.RawQuery),
				zap.String("ip", r.RemoteAddr),
				zap.Duration("latency", time.Since(start)),
				zap.String("request_id", requestIDFrom(r.Context())),
			}

			switch {
			case rec.status >= 500:
				logger.Error("Server error", fields...)
			case rec.status >= 400:
				logger.Warn("Client error", fields...)
			default:
				logger.Info("Request", fields...)
			}
		})
	}
}

// JWTAuth rejects requests without a valid bearer token and stores the caller on the
// request context. X-Org-ID overrides the org hint of the token.
func JWTAuth(auth *Authenticator) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := auth.Authenticate(bearerToken(r.Header.Get("Authorization")))
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, domain.CodeUnauthenticated, "Authorization is required")
				return
			}
			if org := r.Header.Get(headerOrgID); org != "" {
				caller.OrgID = org
			}
			next.ServeHTTP(w, r.WithContext(withCaller(r.Context(), caller)))
		})
	}
}

// statusFor maps engine errors to HTTP statuses.
func statusFor(err error) int {
	switch domain.ErrorCode(err) {
	case domain.CodeQuantityInvalid, domain.CodeInvalidDate, domain.CodeInvalidInput, domain.CodeIdempotencyKeyRequired:
		return http.StatusBadRequest
	case domain.CodeItemNotFound, domain.CodeBatchNotFound:
		return http.StatusNotFound
	case domain.CodeReferenceNotFound:
		return http.StatusUnprocessableEntity
	case domain.CodeInsufficientStock, domain.CodeItemNameTaken:
		return http.StatusConflict
	case domain.CodeForbidden:
		return http.StatusForbidden
	case domain.CodeUnauthenticated:
		return http.StatusUnauthorized
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}
