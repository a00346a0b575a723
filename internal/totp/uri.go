package totp

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	uriScheme = "otpauth"
	uriType   = "totp"
)

// Label is the human readable part of an otpauth URI.
type Label struct {
	Issuer  string
	Account string
}

// URI encodes cfg as otpauth://totp/{issuer}:{account}?secret=...
func URI(cfg Config, issuer, account string) (string, error) {
	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return "", err
	}

	label := escapeLabel(account)
	if issuer != "" {
		label = escapeLabel(issuer) + ":" + label
	}

	q := url.Values{}
	q.Set("secret", cfg.Secret)
	if issuer != "" {
		q.Set("issuer", issuer)
	}
	q.Set("algorithm", string(cfg.Algorithm))
	q.Set("digits", strconv.Itoa(cfg.Digits))
	q.Set("period", strconv.Itoa(cfg.Period))

	return fmt.Sprintf("%s://%s/%s?%s", uriScheme, uriType, label, q.Encode()), nil
}

// escapeLabel also escapes ':', which separates issuer and account.
func escapeLabel(s string) string {
	return strings.ReplaceAll(url.PathEscape(s), ":", "%3A")
}

// ParseURI decodes an otpauth URI. Only the totp type is supported.
func ParseURI(raw string) (Config, Label, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return Config{}, Label{}, fmt.Errorf("%w: %v", ErrMalformedURI, err)
	}
	if !strings.EqualFold(u.Scheme, uriScheme) {
		return Config{}, Label{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	if !strings.EqualFold(u.Host, uriType) {
		return Config{}, Label{}, fmt.Errorf("%w: otp type %q", ErrUnsupportedScheme, u.Host)
	}

	q := u.Query()
	secret := q.Get("secret")
	if secret == "" {
		return Config{}, Label{}, ErrMissingSecret
	}

	cfg := Config{Secret: secret}

	if v := q.Get("algorithm"); v != "" {
		alg, err := ParseAlgorithm(v)
		if err != nil {
			return Config{}, Label{}, err
		}
		cfg.Algorithm = alg
	}
	if v := q.Get("digits"); v != "" {
		digits, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, Label{}, fmt.Errorf("%w: %q", ErrInvalidDigits, v)
		}
		cfg.Digits = digits
	}
	if v := q.Get("period"); v != "" {
		period, err := strconv.Atoi(v)
		if err != nil || period <= 0 {
			return Config{}, Label{}, fmt.Errorf("%w: %q", ErrInvalidPeriod, v)
		}
		cfg.Period = period
	}

	cfg = cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, Label{}, err
	}

	return cfg, parseLabel(u, q.Get("issuer")), nil
}

func parseLabel(u *url.URL, issuerParam string) Label {
	var label Label
	escaped := strings.TrimPrefix(u.EscapedPath(), "/")
	if issuer, account, ok := strings.Cut(escaped, ":"); ok {
		label.Issuer = unescapeLabel(issuer)
		label.Account = unescapeLabel(account)
	} else if decoded := strings.TrimPrefix(u.Path, "/"); issuerParam != "" && strings.HasPrefix(decoded, issuerParam+":") {
		// Some generators encode the separator as well.
		label.Account = strings.TrimSpace(strings.TrimPrefix(decoded, issuerParam+":"))
	} else {
		label.Account = unescapeLabel(escaped)
	}
	if issuerParam != "" {
		label.Issuer = issuerParam
	}
	return label
}

func unescapeLabel(s string) string {
	if v, err := url.PathUnescape(s); err == nil {
		s = v
	}
	return strings.TrimSpace(s)
}
