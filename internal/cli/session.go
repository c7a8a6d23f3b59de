package cli

import (
	"fmt"
	"strings"
	"time"

	"stakehouse/internal/statedir"
)

const sessionFile = "session.json"

// Session is the saved login state for the CLI.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	Email        string    `json:"email"`
	UserID       string    `json:"user_id"`
	SavedAt      time.Time `json:"saved_at"`
}

func SaveSession(s Session) error {
	s.SavedAt = time.Now().UTC()
	return statedir.WriteJSON(sessionFile, s)
}

func LoadSession() (Session, error) {
	var s Session
	ok, err := statedir.ReadJSON(sessionFile, &s)
	if err != nil {
		return Session{}, err
	}
	if !ok || strings.TrimSpace(s.AccessToken) == "" {
		return Session{}, fmt.Errorf("no saved session")
	}
	return s, nil
}

func ClearSession() error {
	return statedir.Remove(sessionFile)
}
