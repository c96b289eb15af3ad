package sessions

import (
	"strings"

	"github.com/google/uuid"
)

// Keys are the storage keys the store reads and writes, all carrying the
// application prefix.
type Keys struct {
	Prefix       string
	Token        string
	RefreshToken string
	User         string
	RememberMe   string
	SavedEmail   string
	HomePage     string
}

func NewKeys(prefix string) Keys {
	return Keys{
		Prefix:       prefix,
		Token:        prefix + "token",
		RefreshToken: prefix + "refresh_token",
		User:         prefix + "user",
		RememberMe:   prefix + "remember_me",
		SavedEmail:   prefix + "saved_email",
		HomePage:     prefix + "home_page",
	}
}

func (k Keys) session() []string {
	return []string{k.Token, k.RefreshToken, k.User}
}

// Sweepable reports whether a full clear should remove key: anything with
// the application prefix, or any key carrying a UUID, which is how per-user
// cached UI state is named.
func (k Keys) Sweepable(key string) bool {
	if k.Prefix != "" && strings.HasPrefix(key, k.Prefix) {
		return true
	}
	return hasUUIDSegment(key)
}

func hasUUIDSegment(key string) bool {
	segments := strings.FieldsFunc(key, func(r rune) bool {
		return r == '_' || r == ':' || r == '/' || r == '.'
	})
	for _, s := range segments {
		if len(s) != 36 {
			continue
		}
		if _, err := uuid.Parse(s); err == nil {
			return true
		}
	}
	return false
}
