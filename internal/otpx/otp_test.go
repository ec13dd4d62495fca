package otpx

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

const secret = "JBSWY3DPEHPK3PXP"

func TestFromFields_URL(t *testing.T) {
	f := models.Fields{Custom: map[string]models.CustomField{
		FieldOTP: {Value: "otpauth://totp/Example:alice?secret=" + secret + "&issuer=Example&period=60&digits=8"},
	}}
	c, ok := FromFields(f)
	require.True(t, ok)
	require.Equal(t, secret, c.Secret)
	require.Equal(t, uint(60), c.Period)
	require.Equal(t, otp.DigitsEight, c.Digits)
	require.Equal(t, "Example", c.Issuer)
}

func TestFromFields_Seed(t *testing.T) {
	f := models.Fields{Custom: map[string]models.CustomField{
		FieldSeed:     {Value: "jbsw y3dp ehpk 3pxp"},
		FieldSettings: {Value: "30;6"},
	}}
	c, ok := FromFields(f)
	require.True(t, ok)
	require.Equal(t, secret, c.Secret)
	require.Equal(t, uint(30), c.Period)
}

func TestFromFields_None(t *testing.T) {
	require.False(t, HasTOTP(models.Fields{}))
	require.False(t, HasTOTP(models.Fields{Custom: map[string]models.CustomField{FieldOTP: {Value: "not a url"}}}))
}

func TestCode_MatchesValidator(t *testing.T) {
	f := models.Fields{Custom: map[string]models.CustomField{FieldSeed: {Value: secret}}}
	now := time.Now()
	code, err := Code(f, now)
	require.NoError(t, err)
	require.Len(t, code, 6)
	require.True(t, totp.Validate(code, secret))

	_, err = Code(models.Fields{}, now)
	require.ErrorIs(t, err, common.ErrValidation)
}

func TestGenerate(t *testing.T) {
	u, err := Generate("vaultcore", "alice")
	require.NoError(t, err)
	f := models.Fields{Custom: map[string]models.CustomField{FieldOTP: {Value: u}}}
	c, ok := FromFields(f)
	require.True(t, ok)
	require.Equal(t, "alice", c.Account)
}
