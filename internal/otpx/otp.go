// Package otpx reads and generates TOTP configuration stored in entry
// custom fields.
package otpx

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// FieldOTP holds a full otpauth:// URL.
	FieldOTP = "otp"
	// FieldSeed and FieldSettings hold a bare base32 secret and
	// "period;digits".
	FieldSeed     = "TOTP Seed"
	FieldSettings = "TOTP Settings"
)

// Config is the TOTP configuration of one entry.
type Config struct {
	Secret    string
	Period    uint
	Digits    otp.Digits
	Algorithm otp.Algorithm
	Issuer    string
	Account   string
}

// FromFields extracts TOTP configuration from an entry. ok is false when
// the entry has none or it cannot be parsed.
func FromFields(f models.Fields) (Config, bool) {
	if cf, ok := f.Custom[FieldOTP]; ok && strings.TrimSpace(cf.Value) != "" {
		key, err := otp.NewKeyFromURL(strings.TrimSpace(cf.Value))
		if err != nil || key.Type() != "totp" || key.Secret() == "" {
			return Config{}, false
		}
		return Config{
			Secret:    key.Secret(),
			Period:    uint(key.Period()),
			Digits:    key.Digits(),
			Algorithm: key.Algorithm(),
			Issuer:    key.Issuer(),
			Account:   key.AccountName(),
		}, true
	}
	if cf, ok := f.Custom[FieldSeed]; ok && strings.TrimSpace(cf.Value) != "" {
		c := Config{
			Secret:    strings.ToUpper(strings.ReplaceAll(cf.Value, " ", "")),
			Period:    30,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		}
		if s, ok := f.Custom[FieldSettings]; ok {
			parts := strings.Split(s.Value, ";")
			if p, err := strconv.Atoi(parts[0]); err == nil && p > 0 {
				c.Period = uint(p)
			}
			if len(parts) > 1 && parts[1] == "8" {
				c.Digits = otp.DigitsEight
			}
		}
		return c, true
	}
	return Config{}, false
}

// HasTOTP reports whether the entry carries usable TOTP configuration.
func HasTOTP(f models.Fields) bool {
	_, ok := FromFields(f)
	return ok
}

// Code returns the TOTP code for the entry at t.
func Code(f models.Fields, t time.Time) (string, error) {
	c, ok := FromFields(f)
	if !ok {
		return "", fmt.Errorf("%w: entry has no TOTP configuration", common.ErrValidation)
	}
	code, err := totp.GenerateCodeCustom(c.Secret, t, totp.ValidateOpts{
		Period:    c.Period,
		Digits:    c.Digits,
		Algorithm: c.Algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrValidation, err)
	}
	return code, nil
}

// Generate creates a fresh TOTP key and returns its otpauth URL, suitable
// for the FieldOTP custom field.
func Generate(issuer, account string) (string, error) {
	if account == "" {
		account = issuer
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: account,
	})
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}
