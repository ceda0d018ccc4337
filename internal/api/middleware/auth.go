package middleware

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/orrn/printdesk/internal/core"
	"github.com/orrn/printdesk/internal/db"
)

const (
	cookieName           = "printdesk_auth"
	settingsKeyJWTSecret = "jwt_secret"
	issuer               = "printdesk"

	identityKey = "identity"
	claimsKey   = "claims"
)

// UserStore is the slice of the db store the auth layer needs.
type UserStore interface {
	GetUserByUsername(ctx context.Context, username string) (*db.User, error)
	GetUserByID(ctx context.Context, id int64) (*db.User, error)
	UpdatePassword(ctx context.Context, id int64, hash string, mustChange bool) error
	CreateUser(ctx context.Context, u *db.User) error
	HasAdmin(ctx context.Context) (bool, error)
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

type Claims struct {
	jwt.RegisteredClaims
	UserID             int64     `json:"uid"`
	Username           string    `json:"username"`
	Role               core.Role `json:"role"`
	MustChangePassword bool      `json:"must_change_password"`
}

func (c *Claims) Identity() core.Identity {
	return core.Identity{UserID: c.UserID, Role: c.Role}
}

type AuthMiddleware struct {
	users  UserStore
	secret []byte
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
}

type LoginResponse struct {
	Token              string    `json:"token"`
	Role               core.Role `json:"role"`
	MustChangePassword bool      `json:"must_change_password"`
}

// NewAuthMiddleware signs tokens with secret, or with a random secret kept
// in the settings table when secret is empty.
func NewAuthMiddleware(ctx context.Context, users UserStore, secret string, ttl time.Duration, logger *slog.Logger) (*AuthMiddleware, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuthMiddleware{
		users:  users,
		ttl:    ttl,
		logger: logger.With("component", "auth"),
		now:    time.Now,
	}

	if secret != "" {
		a.secret = []byte(secret)
		return a, nil
	}

	key, err := a.getOrCreateSecret(ctx)
	if err != nil {
		return nil, err
	}
	a.secret = key
	return a, nil
}

func (a *AuthMiddleware) getOrCreateSecret(ctx context.Context) ([]byte, error) {
	value, err := a.users.GetSetting(ctx, settingsKeyJWTSecret)
	if err == nil {
		return hex.DecodeString(value)
	}
	if !errors.Is(err, db.ErrNoSetting) {
		return nil, err
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	if err := a.users.SetSetting(ctx, settingsKeyJWTSecret, hex.EncodeToString(key)); err != nil {
		return nil, err
	}
	a.logger.Info("generated jwt signing secret")
	return key, nil
}

func (a *AuthMiddleware) generateToken(u *db.User) (string, error) {
	now := a.now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
			Issuer:    issuer,
			Subject:   u.Username,
		},
		UserID:             u.ID,
		Username:           u.Username,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwt.WithIssuer(issuer), jwt.WithTimeFunc(a.now))

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}

func (a *AuthMiddleware) getTokenFromRequest(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if strings.HasPrefix(authHeader, "Bearer ") {
		return strings.TrimPrefix(authHeader, "Bearer ")
	}

	if cookie, err := c.Cookie(cookieName); err == nil && cookie != "" {
		return cookie
	}

	return ""
}

func (a *AuthMiddleware) setAuthCookie(c *gin.Context, token string) {
	c.SetCookie(cookieName, token, int(a.ttl.Seconds()), "/", "", true, true)
}

func (a *AuthMiddleware) issue(c *gin.Context, u *db.User) {
	token, err := a.generateToken(u)
	if err != nil {
		a.logger.Error("failed to sign token", "user", u.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	a.setAuthCookie(c, token)
	c.JSON(http.StatusOK, LoginResponse{
		Token:              token,
		Role:               u.Role,
		MustChangePassword: u.MustChangePassword,
	})
}

// LoginHandler exchanges form credentials for a bearer token.
func (a *AuthMiddleware) LoginHandler(c *gin.Context) {
	username := c.PostForm("username")
	password := c.PostForm("password")
	if username == "" || password == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Username and password are required"})
		return
	}

	u, err := a.users.GetUserByUsername(c.Request.Context(), username)
	if err != nil {
		if !errors.Is(err, db.ErrUserNotFound) {
			a.logger.Error("failed to load user", "user", username, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	if !CheckPassword(u.PasswordHash, password) {
		a.logger.Warn("failed login", "user", username, "ip", c.ClientIP())
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid username or password"})
		return
	}

	a.logger.Info("login", "user", username, "role", u.Role)
	a.issue(c, u)
}

// ChangePasswordHandler replaces the caller's password and returns a fresh
// token with the change requirement cleared.
func (a *AuthMiddleware) ChangePasswordHandler(c *gin.Context) {
	claims, ok := ClaimsFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	oldPassword := c.PostForm("old_password")
	newPassword := c.PostForm("new_password")

	if oldPassword == newPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "New password must be different from old password"})
		return
	}

	if !IsStrongPassword(newPassword) {
		c.JSON(http.StatusBadRequest, gin.H{"error": PasswordPolicy})
		return
	}

	ctx := c.Request.Context()
	u, err := a.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, db.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Server error"})
		return
	}

	if !CheckPassword(u.PasswordHash, oldPassword) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Old password incorrect"})
		return
	}

	hash, err := HashPassword(newPassword)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to hash password"})
		return
	}

	if err := a.users.UpdatePassword(ctx, u.ID, hash, false); err != nil {
		a.logger.Error("failed to update password", "user", u.Username, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to update password"})
		return
	}

	u.PasswordHash = hash
	u.MustChangePassword = false
	a.logger.Info("password changed", "user", u.Username)
	a.issue(c, u)
}

// RequireAuth rejects requests without a valid token and stores the
// caller's identity on the context.
func (a *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := a.getTokenFromRequest(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}

		claims, err := a.validateToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			return
		}

		c.Set(claimsKey, claims)
		c.Set(identityKey, claims.Identity())
		c.Next()
	}
}

// RequirePasswordChanged blocks accounts still on their initial password.
// It must run after RequireAuth.
func (a *AuthMiddleware) RequirePasswordChanged() gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, ok := ClaimsFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if claims.MustChangePassword {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Password change required"})
			return
		}
		c.Next()
	}
}

func (a *AuthMiddleware) RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		who, ok := IdentityFrom(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
			return
		}
		if !who.IsAdmin() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Admin access required"})
			return
		}
		c.Next()
	}
}

func ClaimsFrom(c *gin.Context) (*Claims, bool) {
	v, ok := c.Get(claimsKey)
	if !ok {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

func IdentityFrom(c *gin.Context) (core.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return core.Identity{}, false
	}
	who, ok := v.(core.Identity)
	return who, ok
}

func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// EnsureDefaultAdmin creates the "admin" account when no admin exists. The
// account must change its password before printing.
func EnsureDefaultAdmin(ctx context.Context, users UserStore, password string, logger *slog.Logger) error {
	has, err := users.HasAdmin(ctx)
	if err != nil {
		return err
	}
	if has {
		return nil
	}

	hash, err := HashPassword(password)
	if err != nil {
		return err
	}

	u := &db.User{
		Username:           "admin",
		PasswordHash:       hash,
		Role:               core.RoleAdmin,
		MustChangePassword: true,
	}
	if err := users.CreateUser(ctx, u); err != nil {
		return err
	}

	if logger != nil {
		logger.Warn("created default admin account, change its password", "user", u.Username)
	}
	return nil
}
