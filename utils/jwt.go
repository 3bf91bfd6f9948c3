package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"focalcrm/config"
	"focalcrm/models"
)

type Claims struct {
	UserID     uint `json:"user_id"`
	BusinessID uint `json:"business_id"`
	jwt.RegisteredClaims
}

// GenerateJWTToken issues an access token for an operator.
func GenerateJWTToken(user *models.User) (string, error) {
	claims := &Claims{
		UserID:     user.ID,
		BusinessID: user.BusinessID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(12 * time.Hour)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

func ParseJWTToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
