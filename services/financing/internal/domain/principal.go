package domain

import "github.com/google/uuid"

// Role 사용자 역할
type Role string

const (
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// FinalYear 신청이 금지된 학년
const FinalYear = 4

// Principal 인증 계층이 넘겨주는 호출자 정보
type Principal struct {
	ID   uuid.UUID
	Role Role
	Year *int
}

func (p Principal) IsAdmin() bool   { return p.Role == RoleAdmin }
func (p Principal) IsStudent() bool { return p.Role == RoleStudent }
