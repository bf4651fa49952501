package resource

import (
	"strings"

	"github.com/Skryldev/socialhub/apierr"
	"github.com/Skryldev/socialhub/auth"
	"github.com/Skryldev/socialhub/request"
	"github.com/Skryldev/socialhub/sanitize"
)

// transformFunc normalises one field value before it is bound.
type transformFunc func(field string, v any) (any, error)

var transforms = map[string]transformFunc{
	"title": stringTransform(sanitize.Normalise),
	"lower": stringTransform(strings.ToLower),
	"email": emailTransform,
	"hash":  hashTransform,
	"int": func(_ string, v any) (any, error) {
		return sanitize.Num(v), nil
	},
}

func stringTransform(fn func(string) string) transformFunc {
	return func(field string, v any) (any, error) {
		s, ok := v.(string)
		if !ok {
			return nil, apierr.Unprocessable("%s must be a string", field)
		}
		return fn(s), nil
	}
}

func emailTransform(field string, v any) (any, error) {
	s, ok := v.(string)
	if !ok {
		return nil, apierr.Unprocessable("%s must be a string", field)
	}
	email := sanitize.Email(s)
	if !sanitize.ValidEmail(email) {
		return nil, apierr.Unprocessable("Invalid email")
	}
	return email, nil
}

// hashTransform replaces a plaintext password with its bcrypt hash. The
// value is unescaped first so the hash covers exactly what the client sent.
func hashTransform(field string, v any) (any, error) {
	s, ok := v.(string)
	if !ok || s == "" {
		return nil, apierr.Unprocessable("%s must be a non-empty string", field)
	}
	h, err := auth.HashPassword(sanitize.Unescape(s))
	if err != nil {
		return nil, apierr.Unprocessable("%s cannot be hashed", field)
	}
	return h, nil
}

// applyTransforms runs the descriptor-wide transforms and then the
// operation's own, which win on conflict. Absent fields are skipped.
func applyTransforms(rec request.Record, shared, own map[string]string) (request.Record, error) {
	merged := make(map[string]string, len(shared)+len(own))
	for f, fn := range shared {
		merged[f] = fn
	}
	for f, fn := range own {
		merged[f] = fn
	}

	for _, f := range sortedKeys(merged) {
		if !rec.Has(f) {
			continue
		}
		v, _ := rec.Get(f)
		out, err := transforms[merged[f]](f, v)
		if err != nil {
			return request.Record{}, err
		}
		rec = rec.With(f, out)
	}
	return rec, nil
}
