package pipeline

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/dojopool/gatekeeper/security/csrf"
)

type tokenResponse struct {
	CSRFToken string `json:"csrfToken"`
}

// serveCSRFToken issues a token for the session of the caller. Callers
// without a session get a new one as a cookie.
func (p *Pipeline) serveCSRFToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		writeRejection(w, reject(MethodNotAllowed, ""))
		return
	}

	session := csrf.SessionFromRequest(r)
	if session == "" {
		session = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     csrf.SessionCookie,
			Value:    session,
			Path:     "/",
			HttpOnly: true,
			Secure:   p.secureCookies,
			SameSite: http.SameSiteLaxMode,
		})
	}

	e, err := p.csrf.Issue(r.Context(), session)
	if err != nil {
		p.log.Errorf("Failed to issue csrf token: %v", err)
		writeRejection(w, reject(StoreUnavailable, ""))
		return
	}

	// readable by scripts, they echo it in the header
	http.SetCookie(w, &http.Cookie{
		Name:     csrf.TokenCookie,
		Value:    e.Token,
		Path:     "/",
		Expires:  e.ExpiresAt,
		Secure:   p.secureCookies,
		SameSite: http.SameSiteStrictMode,
	})

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, tokenResponse{CSRFToken: e.Token})
}
