package auth

import (
	"encoding/base64"
	"net/http"
	"strings"
)

const flashCookie = "salescast_flash"

type FlashLevel string

const (
	FlashSuccess FlashLevel = "success"
	FlashInfo    FlashLevel = "info"
	FlashError   FlashLevel = "danger"
)

type Flash struct {
	Level   FlashLevel
	Message string
}

// SetFlash stores a one-shot message for the next page render.
func SetFlash(w http.ResponseWriter, level FlashLevel, message string) {
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookie,
		Value:    string(level) + ":" + base64.RawURLEncoding.EncodeToString([]byte(message)),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// PopFlash reads and clears the pending message, if any.
func PopFlash(w http.ResponseWriter, r *http.Request) (Flash, bool) {
	cookie, err := r.Cookie(flashCookie)
	if err != nil {
		return Flash{}, false
	}
	http.SetCookie(w, &http.Cookie{Name: flashCookie, Value: "", Path: "/", MaxAge: -1})

	level, encoded, ok := strings.Cut(cookie.Value, ":")
	if !ok {
		return Flash{}, false
	}
	message, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return Flash{}, false
	}
	return Flash{Level: FlashLevel(level), Message: string(message)}, true
}
