package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"eventmarket/server/internal/models"
	"eventmarket/server/internal/utils"
)

func TestJWT_RoundTrip(t *testing.T) {
	actor := models.Actor{ID: utils.NewSixID(), Role: models.RoleBusiness}

	token, err := GenerateJWT(actor, "secret", time.Hour)
	require.NoError(t, err)

	got, err := ValidateJWT(token, "secret")
	require.NoError(t, err)
	assert.Equal(t, actor, got)

	_, err = ValidateJWT(token, "other-secret")
	assert.Error(t, err)
}

func TestJWT_Expired(t *testing.T) {
	actor := models.Actor{ID: utils.NewSixID(), Role: models.RoleClient}
	token, err := GenerateJWT(actor, "secret", -time.Minute)
	require.NoError(t, err)

	_, err = ValidateJWT(token, "secret")
	assert.Error(t, err)
}

func TestPassword_HashAndCheck(t *testing.T) {
	PasswordCost = bcrypt.MinCost
	defer func() { PasswordCost = bcrypt.DefaultCost }()

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("correct horse", hash))
	assert.False(t, CheckPasswordHash("wrong horse", hash))

	_, err = HashPassword("short")
	assert.Error(t, err)
}
