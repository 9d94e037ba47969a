package auth

import (
	"context"
	"fmt"
)

// SQLAuth is traditional SQL Server username/password authentication.
type SQLAuth struct {
	Username   string
	Password   string
	Database   string
	UseEncrypt bool
}

func (s *SQLAuth) Name() string          { return "SqlServerAuth" }
func (s *SQLAuth) RequiresFedAuth() bool { return false }

func (s *SQLAuth) PreloginOptions() PreloginOptions {
	return PreloginOptions{UseEncrypt: s.UseEncrypt}
}

func (s *SQLAuth) Login7Options() Login7Options {
	return Login7Options{
		Database: s.Database,
		Username: s.Username,
		Password: s.Password,
		AppName:  "mssqlengine",
	}
}

func (s *SQLAuth) FedAuthToken(ctx context.Context, info FedAuthInfo) (string, error) {
	return "", fmt.Errorf("auth: SqlServerAuth does not support FEDAUTH")
}

func (s *SQLAuth) InvalidateToken() {}
func (s *SQLAuth) TokenExpired() bool { return false }
