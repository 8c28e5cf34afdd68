package handler

import (
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/kyungseok/laptop-financing/services/financing/internal/domain"
)

const principalKey = "principal"

// Claims 인증 서버가 발급한 토큰의 클레임. 발급은 이 서비스의 책임이 아니다
type Claims struct {
	Role string `json:"role"`
	Year *int   `json:"year,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator Bearer 토큰을 검증해 Principal로 바꾼다
type Authenticator struct {
	secret []byte
}

// NewAuthenticator HS256 비밀키 기반 인증기 생성
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Middleware 인증 실패 시 401로 중단
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || raw == "" {
			abortUnauthorized(c, "missing bearer token")
			return
		}

		principal, err := a.Parse(raw)
		if err != nil {
			abortUnauthorized(c, "invalid token")
			return
		}

		c.Set(principalKey, principal)
		c.Next()
	}
}

// Parse 토큰 검증 후 Principal 추출
func (a *Authenticator) Parse(raw string) (domain.Principal, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return domain.Principal{}, err
	}

	id, err := uuid.Parse(claims.Subject)
	if err != nil {
		return domain.Principal{}, stderrors.New("subject is not a valid id")
	}

	role := domain.Role(claims.Role)
	if role != domain.RoleStudent && role != domain.RoleAdmin {
		return domain.Principal{}, stderrors.New("unknown role")
	}

	return domain.Principal{ID: id, Role: role, Year: claims.Year}, nil
}

func principalFrom(c *gin.Context) domain.Principal {
	if v, ok := c.Get(principalKey); ok {
		if p, ok := v.(domain.Principal); ok {
			return p
		}
	}
	return domain.Principal{}
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{
		Error: errorBody{Code: "UNAUTHORIZED", Message: message},
	})
}
