package services

import (
	"errors"
	"time"

	"github.com/flightops/opsync/internal/config"
	"github.com/flightops/opsync/internal/models"
	"github.com/flightops/opsync/internal/utils"
	"github.com/flightops/opsync/pkg/logger"
	"gorm.io/gorm"
)

// AuthService handles the local account store and token minting. Federated
// identity providers live outside this engine; a request only ever carries
// the already-authenticated user identity.
type AuthService struct {
	db        *gorm.DB
	jwtConfig *config.JWTConfig
}

func NewAuthService(db *gorm.DB, jwtCfg *config.JWTConfig) *AuthService {
	return &AuthService{db: db, jwtConfig: jwtCfg}
}

type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type LoginResponse struct {
	Token    string       `json:"token"`
	User     *models.User `json:"user"`
	ExpireAt time.Time    `json:"expire_at"`
}

var errInvalidCredentials = errors.New("invalid username or password")

// Login authenticates a local user and returns a JWT token.
func (s *AuthService) Login(req *LoginRequest) (*LoginResponse, error) {
	var user models.User
	if err := s.db.Where("username = ?", req.Username).First(&user).Error; err != nil {
		return nil, errInvalidCredentials
	}
	if !user.IsActive {
		return nil, errInvalidCredentials
	}
	if !utils.CheckPassword(req.Password, user.Password) {
		return nil, errInvalidCredentials
	}

	token, err := utils.GenerateToken(user.ID, user.Username, user.Role, s.jwtConfig.ExpireHour)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	s.db.Model(&user).Update("last_login", now)
	user.LastLogin = &now

	return &LoginResponse{
		Token:    token,
		User:     &user,
		ExpireAt: now.Add(time.Duration(s.jwtConfig.ExpireHour) * time.Hour),
	}, nil
}

// GetUser returns a user by id.
func (s *AuthService) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := s.db.First(&user, id).Error; err != nil {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// ListUsers returns all active users, for membership pickers.
func (s *AuthService) ListUsers() ([]models.User, error) {
	var users []models.User
	err := s.db.Where("is_active = ?", true).Order("username ASC").Find(&users).Error
	return users, err
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email"`
	Nickname string `json:"nickname"`
}

// CreateUser registers a local account.
func (s *AuthService) CreateUser(req *CreateUserRequest) (*models.User, error) {
	var count int64
	s.db.Model(&models.User{}).Where("username = ?", req.Username).Count(&count)
	if count > 0 {
		return nil, errors.New("username already taken")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return nil, err
	}

	user := models.User{
		Username: req.Username,
		Password: hash,
		Email:    req.Email,
		Nickname: req.Nickname,
		Role:     "user",
		IsActive: true,
	}
	if err := s.db.Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// EnsureAdmin creates the default admin account when the user table is empty.
func (s *AuthService) EnsureAdmin() error {
	var count int64
	if err := s.db.Model(&models.User{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	hash, err := utils.HashPassword("admin123")
	if err != nil {
		return err
	}
	admin := models.User{
		Username: "admin",
		Password: hash,
		Nickname: "Administrator",
		Role:     "admin",
		IsActive: true,
	}
	if err := s.db.Create(&admin).Error; err != nil {
		return err
	}
	logger.Warn().Msg("default admin user created, change the password immediately")
	return nil
}
