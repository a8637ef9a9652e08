package users

import "time"

type Role string

const (
	RoleStaff   Role = "staff"
	RoleManager Role = "manager"
	RoleAdmin   Role = "admin"
)

type User struct {
	ID         int64
	TelegramID int64
	Username   string
	FirstName  string
	LastName   string
	Role       Role
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (u User) DisplayName() string {
	switch {
	case u.FirstName != "" && u.LastName != "":
		return u.FirstName + " " + u.LastName
	case u.FirstName != "":
		return u.FirstName
	case u.Username != "":
		return "@" + u.Username
	}
	return "user"
}

// CanManage — может вести учёт дня (менеджер или админ).
func (u User) CanManage() bool { return u.Role == RoleManager || u.Role == RoleAdmin }

type Telegram struct {
	ID        int64
	Username  string
	FirstName string
	LastName  string
}
