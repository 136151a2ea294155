package server

import (
	"database/sql"
	"errors"
	"net/http"
)

const adminCookieName = "admin_session"

var errNoAdminSession = errors.New("no valid admin session")

// adminSession identifies the operator behind an admin cookie.
type adminSession struct {
	AdminID string
	Email   string
}

// adminFromRequest resolves the session cookie to the admin that owns it.
// A missing cookie and an unknown session id both come back as
// errNoAdminSession.
func adminFromRequest(r *http.Request, db *sql.DB) (adminSession, error) {
	cookie, err := r.Cookie(adminCookieName)
	if err != nil || cookie.Value == "" {
		return adminSession{}, errNoAdminSession
	}

	var sess adminSession
	err = db.QueryRowContext(r.Context(), `
		SELECT a.id, a.email
		FROM admin_sessions s
		JOIN admins a ON a.id = s.admin_id
		WHERE s.id = ?
	`, cookie.Value).Scan(&sess.AdminID, &sess.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return adminSession{}, errNoAdminSession
	}
	return sess, err
}
