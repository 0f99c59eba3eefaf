package core

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
)

const unknownOrigin = "unknown"

// RequestOrigin identifies where an authentication action came from.
type RequestOrigin struct {
	IPAddress string
	UserAgent string
}

func (o RequestOrigin) normalized() RequestOrigin {
	if strings.TrimSpace(o.IPAddress) == "" {
		o.IPAddress = unknownOrigin
	}
	if strings.TrimSpace(o.UserAgent) == "" {
		o.UserAgent = unknownOrigin
	}
	return o
}

// LoginResult is returned on a successful login.
type LoginResult struct {
	User  User
	Token string
}

// AuthService orchestrates credential lookup, password verification, token
// issuance and the audit trail for login, logout and provisioning.
type AuthService struct {
	users        UserRepository
	tokens       *TokenIssuer
	audit        *AuditLogger
	metrics      *Metrics
	queryTimeout time.Duration
}

func NewAuthService(users UserRepository, tokens *TokenIssuer, audit *AuditLogger, metrics *Metrics, queryTimeout time.Duration) *AuthService {
	if queryTimeout <= 0 {
		queryTimeout = 3 * time.Second
	}
	return &AuthService{
		users:        users,
		tokens:       tokens,
		audit:        audit,
		metrics:      metrics,
		queryTimeout: queryTimeout,
	}
}

// Login authenticates username/password. Unknown usernames and wrong
// passwords both yield ErrInvalidCredentials; storage failures are returned
// wrapped so the caller can answer with a generic 500.
func (s *AuthService) Login(ctx context.Context, username, password string, origin RequestOrigin) (LoginResult, error) {
	if strings.TrimSpace(username) == "" || password == "" {
		return LoginResult{}, ErrMissingCredentials
	}
	origin = origin.normalized()

	var (
		rec *UserRecord
		err error
	)
	// Postgres rejects NUL in text, so such a name can never match an account.
	if strings.ContainsRune(username, 0) {
		err = ErrUserNotFound
	} else {
		lookupCtx, cancel := context.WithTimeout(ctx, s.queryTimeout)
		rec, err = s.users.FindByUsername(lookupCtx, username)
		cancel()
	}
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			s.audit.Append(ctx, AuditEvent{
				Action:      ActionLoginFailed,
				Description: fmt.Sprintf("Failed login attempt for username: %s", strings.ReplaceAll(username, "\x00", "")),
				IPAddress:   origin.IPAddress,
				UserAgent:   origin.UserAgent,
			})
			s.metrics.ObserveLogin(LoginOutcomeUnknownUser)
			return LoginResult{}, ErrInvalidCredentials
		}
		s.metrics.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, fmt.Errorf("lookup user: %w", err)
	}

	userID := rec.ID
	if !VerifyPassword(password, rec.PasswordHash) {
		s.audit.Append(ctx, AuditEvent{
			UserID:      &userID,
			Action:      ActionLoginFailed,
			Description: "Failed login attempt - incorrect password",
			IPAddress:   origin.IPAddress,
			UserAgent:   origin.UserAgent,
		})
		s.metrics.ObserveLogin(LoginOutcomeBadPassword)
		return LoginResult{}, ErrInvalidCredentials
	}

	token, err := s.tokens.IssueToken(rec.User)
	if err != nil {
		s.metrics.ObserveLogin(LoginOutcomeError)
		return LoginResult{}, fmt.Errorf("issue token: %w", err)
	}

	s.audit.Append(ctx, AuditEvent{
		UserID:      &userID,
		Action:      ActionLoginSuccess,
		Description: "User logged in successfully",
		IPAddress:   origin.IPAddress,
		UserAgent:   origin.UserAgent,
	})
	s.metrics.ObserveLogin(LoginOutcomeSuccess)
	return LoginResult{User: rec.User, Token: token}, nil
}

// Logout records a LOGOUT event when a valid session is present. It never fails.
func (s *AuthService) Logout(ctx context.Context, claims *SessionClaims, origin RequestOrigin) {
	if claims == nil {
		return
	}
	origin = origin.normalized()
	userID := claims.UserID
	s.audit.Append(ctx, AuditEvent{
		UserID:      &userID,
		Action:      ActionLogout,
		Description: "User logged out",
		IPAddress:   origin.IPAddress,
		UserAgent:   origin.UserAgent,
	})
}

// VerifySession exposes token verification to the HTTP layer.
func (s *AuthService) VerifySession(token string) (*SessionClaims, bool) {
	return s.tokens.VerifyToken(token)
}

// ListUsers returns the public projection of every account.
func (s *AuthService) ListUsers(ctx context.Context) ([]User, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	return s.users.List(ctx)
}

// CreateUserInput is the provisioning request for a new account.
type CreateUserInput struct {
	Username string
	Email    string
	Password string
	Role     Role
}

// ValidationError reports a field-level input problem.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

// Validate normalises and checks the input.
func (in *CreateUserInput) Validate() error {
	in.Username = strings.TrimSpace(in.Username)
	in.Email = strings.TrimSpace(in.Email)
	if in.Role == "" {
		in.Role = RoleUser
	}
	switch {
	case in.Username == "" || len(in.Username) > 50:
		return &ValidationError{Field: "username", Message: "must be 1-50 characters"}
	case in.Email == "" || len(in.Email) > 100:
		return &ValidationError{Field: "email", Message: "must be 1-100 characters"}
	case len(in.Password) < 8:
		return &ValidationError{Field: "password", Message: "must be at least 8 characters"}
	case !in.Role.Valid():
		return &ValidationError{Field: "role", Message: "must be admin or user"}
	}
	if _, err := mail.ParseAddress(in.Email); err != nil {
		return &ValidationError{Field: "email", Message: "is not a valid address"}
	}
	return nil
}

// CreateUser provisions an account on behalf of actor and audits it.
func (s *AuthService) CreateUser(ctx context.Context, actor *SessionClaims, in CreateUserInput, origin RequestOrigin) (User, error) {
	if err := in.Validate(); err != nil {
		return User{}, err
	}
	hash, err := HashPassword(in.Password)
	if err != nil {
		return User{}, &ValidationError{Field: "password", Message: "cannot be hashed"}
	}

	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	id, err := s.users.Create(qctx, NewUser{Username: in.Username, Email: in.Email, PasswordHash: hash, Role: in.Role})
	if err != nil {
		return User{}, err
	}
	created, err := s.users.FindByID(qctx, id)
	if err != nil {
		return User{}, err
	}

	s.appendActorEvent(ctx, actor, ActionUserCreated, fmt.Sprintf("Created user %s (id=%d, role=%s)", created.Username, created.ID, created.Role), origin)
	return *created, nil
}

// DeleteUser removes an account. Earlier audit events keep a NULL user reference.
func (s *AuthService) DeleteUser(ctx context.Context, actor *SessionClaims, id int64, origin RequestOrigin) error {
	if actor != nil && actor.UserID == id {
		return &ValidationError{Field: "id", Message: "cannot delete the signed-in account"}
	}
	qctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()
	if err := s.users.Delete(qctx, id); err != nil {
		return err
	}
	s.appendActorEvent(ctx, actor, ActionUserDeleted, fmt.Sprintf("Deleted user id=%d", id), origin)
	return nil
}

func (s *AuthService) appendActorEvent(ctx context.Context, actor *SessionClaims, action AuditAction, desc string, origin RequestOrigin) {
	origin = origin.normalized()
	ev := AuditEvent{Action: action, Description: desc, IPAddress: origin.IPAddress, UserAgent: origin.UserAgent}
	if actor != nil {
		actorID := actor.UserID
		ev.UserID = &actorID
	}
	s.audit.Append(ctx, ev)
}
