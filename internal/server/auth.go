package server

import (
	"errors"
	"net/http"
	"strings"
)

var errNoSession = errors.New("no valid session")

func userFromRequest(r *http.Request, store *SQLiteStore) (sessionInfo, error) {
	auth := r.Header.Get("Authorization")
	token, found := strings.CutPrefix(auth, "Bearer ")
	if !found || token == "" {
		return sessionInfo{}, errNoSession
	}
	return store.UserFromToken(r.Context(), token)
}
