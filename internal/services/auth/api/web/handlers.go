package web

import (
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	apperrors "github.com/louisbranch/family.recipes/internal/platform/errors"
	"github.com/louisbranch/family.recipes/internal/services/auth/allowlist"
	"github.com/louisbranch/family.recipes/internal/services/auth/magiclink"
	"github.com/louisbranch/family.recipes/internal/services/auth/passkey"
	"github.com/louisbranch/family.recipes/internal/services/auth/platform/challengecookie"
	"github.com/louisbranch/family.recipes/internal/services/auth/platform/requestmeta"
	"github.com/louisbranch/family.recipes/internal/services/auth/platform/sessioncookie"
	"github.com/louisbranch/family.recipes/internal/services/auth/session"
	"github.com/louisbranch/family.recipes/internal/services/auth/storage"
	"github.com/louisbranch/family.recipes/internal/services/auth/user"
)

// Config controls cookie behavior for the web handlers.
type Config struct {
	// ChallengeTTL caps the passkey challenge cookie lifetime. The signed
	// token inside carries its own expiry; this only tells the browser when
	// to drop the cookie.
	ChallengeTTL time.Duration
	// TrustForwardedProto marks session cookies Secure when a proxy reports
	// a TLS front end via X-Forwarded-Proto.
	TrustForwardedProto bool
}

// Handler serves the JSON auth endpoints.
type Handler struct {
	links    *magiclink.Service
	passkeys *passkey.Service
	sessions *session.Manager
	resolver *allowlist.Resolver
	users    storage.UserStore
	cfg      Config
	now      func() time.Time
}

// NewHandler wires the web handlers over the auth services.
func NewHandler(links *magiclink.Service, passkeys *passkey.Service, sessions *session.Manager, resolver *allowlist.Resolver, users storage.UserStore, cfg Config) *Handler {
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return &Handler{
		links:    links,
		passkeys: passkeys,
		sessions: sessions,
		resolver: resolver,
		users:    users,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RegisterRoutes registers the auth endpoints on the provided mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	if mux == nil {
		return
	}

	mux.HandleFunc("/auth/email", h.handleEmail)
	mux.HandleFunc("/auth/verify", h.handleVerify)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.HandleFunc("/auth/passkeys/register/options", h.handleRegisterOptions)
	mux.HandleFunc("/auth/passkeys/register", h.handleRegister)
	mux.HandleFunc("/auth/passkeys/authenticate/options", h.handleAuthenticateOptions)
	mux.HandleFunc("/auth/passkeys/authenticate", h.handleAuthenticate)
	mux.HandleFunc("/auth/allowlist", h.handleAllowlist)
	mux.HandleFunc("/auth/profile", h.handleProfile)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
}

type emailRequest struct {
	Email string `json:"email"`
}

type credentialRequest struct {
	Response json.RawMessage `json:"response"`
}

type inviteRequest struct {
	Email string `json:"email"`
	Role  string `json:"role"`
}

type profileRequest struct {
	Name string `json:"name"`
}

type successResponse struct {
	Success bool `json:"success"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type allowlistEntry struct {
	Email           string     `json:"email"`
	Role            string     `json:"role"`
	InvitedBy       string     `json:"invited_by,omitempty"`
	FirstSignedInAt *time.Time `json:"first_signed_in_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

type allowlistResponse struct {
	Entries []allowlistEntry `json:"entries"`
}

// handleEmail requests a magic link. The response is the same whether the
// address is allowlisted, unknown, or failed delivery, so this endpoint
// cannot be used to probe membership.
func (h *Handler) handleEmail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req emailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}

	if err := h.links.Issue(r.Context(), req.Email, ""); err != nil {
		if apperrors.CodeOf(err) == apperrors.CodeEmailInvalid {
			writeError(w, "invalid_payload", http.StatusBadRequest)
			return
		}
		// Delivery problems stay server-side; surfacing them would leak
		// which addresses reach the send step.
		log.Printf("sign-in link request failed: %v", err)
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleVerify redeems a magic link from the emailed URL. Success sets the
// session cookie; every failure lands back on the login page with a coarse
// error name.
func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		h.redirectLogin(w, r, "missing_token")
		return
	}

	result, err := h.links.Redeem(r.Context(), token)
	if err != nil {
		switch apperrors.CodeOf(err) {
		case apperrors.CodeEmailNotAllowed:
			h.redirectLogin(w, r, "not_allowed")
		case apperrors.CodeMagicLinkInvalid:
			h.redirectLogin(w, r, "invalid_token")
		default:
			log.Printf("magic link verification failed: %v", err)
			h.redirectLogin(w, r, "server_error")
		}
		return
	}

	sessioncookie.WriteWithPolicy(w, r, result.Session.Token, time.Until(result.Session.ExpiresAt), h.schemePolicy())

	target := "/"
	if result.PendingID != "" {
		// The link was requested mid-OAuth-flow; resume at consent.
		target = "/authorize/consent?pending_id=" + url.QueryEscape(result.PendingID)
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// handleLogout destroys the session. Logout is fail-open: the cookie is
// cleared even when the store delete fails.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if token, ok := sessioncookie.Read(r); ok {
		if err := h.sessions.Destroy(r.Context(), token); err != nil {
			log.Printf("session destroy failed: %v", err)
		}
	}
	sessioncookie.ClearWithPolicy(w, r, h.schemePolicy())
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleRegisterOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u, ok := h.currentUser(r)
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	optionsJSON, challenge, err := h.passkeys.BeginRegistration(r.Context(), u)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	challengecookie.Write(w, r, challenge, h.cfg.ChallengeTTL)
	writeRawJSON(w, optionsJSON)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u, ok := h.currentUser(r)
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	// The challenge cookie is one-shot: cleared before the outcome is known.
	cookieToken, hasChallenge := challengecookie.Read(r)
	challengecookie.Clear(w, r)
	if !hasChallenge {
		writeError(w, "invalid_challenge", http.StatusUnauthorized)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}

	if _, err := h.passkeys.FinishRegistration(r.Context(), u, cookieToken, req.Response); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleAuthenticateOptions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// No session required: passkeys are a login method.
	optionsJSON, challenge, err := h.passkeys.BeginAuthentication(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	challengecookie.Write(w, r, challenge, h.cfg.ChallengeTTL)
	writeRawJSON(w, optionsJSON)
}

func (h *Handler) handleAuthenticate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	cookieToken, hasChallenge := challengecookie.Read(r)
	challengecookie.Clear(w, r)
	if !hasChallenge {
		writeError(w, "invalid_challenge", http.StatusUnauthorized)
		return
	}

	var req credentialRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}

	result, err := h.passkeys.FinishAuthentication(r.Context(), cookieToken, req.Response)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	sessioncookie.WriteWithPolicy(w, r, result.Session.Token, time.Until(result.Session.ExpiresAt), h.schemePolicy())
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// handleAllowlist manages household membership. POST invites, GET lists;
// the resolver enforces that both are owner-only.
func (h *Handler) handleAllowlist(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handleInvite(w, r)
	case http.MethodGet:
		h.handleListAllowlist(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleInvite(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(r)
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req inviteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}
	role, err := user.ParseRole(req.Role)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}

	if err := h.resolver.Invite(r.Context(), u, req.Email, role); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

func (h *Handler) handleListAllowlist(w http.ResponseWriter, r *http.Request) {
	u, ok := h.currentUser(r)
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	entries, err := h.resolver.List(r.Context(), u)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	resp := allowlistResponse{Entries: make([]allowlistEntry, 0, len(entries))}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, allowlistEntry{
			Email:           entry.Email,
			Role:            string(entry.Role),
			InvitedBy:       entry.InvitedBy,
			FirstSignedInAt: entry.FirstSignedInAt,
			CreatedAt:       entry.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleProfile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	u, ok := h.currentUser(r)
	if !ok {
		writeError(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, "invalid_payload", http.StatusBadRequest)
		return
	}

	if err := h.users.UpdateUserName(r.Context(), u.ID, name, h.now().UTC()); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// currentUser resolves the session cookie to a live account.
func (h *Handler) currentUser(r *http.Request) (user.User, bool) {
	token, ok := sessioncookie.Read(r)
	if !ok {
		return user.User{}, false
	}
	u, _, err := h.sessions.Validate(r.Context(), token)
	if err != nil {
		return user.User{}, false
	}
	return u, true
}

func (h *Handler) schemePolicy() requestmeta.SchemePolicy {
	return requestmeta.SchemePolicy{TrustForwardedProto: h.cfg.TrustForwardedProto}
}

func (h *Handler) redirectLogin(w http.ResponseWriter, r *http.Request, name string) {
	http.Redirect(w, r, "/login?error="+url.QueryEscape(name), http.StatusFound)
}

// externalError maps an internal failure to the wire error vocabulary.
// Unmapped codes stay generic so internals never leak.
func externalError(err error) (string, int) {
	code := apperrors.CodeOf(err)
	var name string
	switch code {
	case apperrors.CodeRequestInvalid, apperrors.CodeEmailInvalid, apperrors.CodeRoleInvalid:
		name = "invalid_payload"
	case apperrors.CodeChallengeInvalid, apperrors.CodeChallengeExpired:
		name = "invalid_challenge"
	case apperrors.CodeVerificationFailed, apperrors.CodeCounterRegressed, apperrors.CodeCredentialNotFound:
		name = "verification_failed"
	case apperrors.CodeCredentialExists, apperrors.CodeAlreadyExists:
		name = "credential_exists"
	case apperrors.CodeEmailNotAllowed:
		name = "not_allowed"
	case apperrors.CodePermissionDenied:
		name = "forbidden"
	case apperrors.CodeUnauthenticated, apperrors.CodeSessionInvalid, apperrors.CodeSessionExpired:
		name = "unauthorized"
	case apperrors.CodeNotFound:
		name = "not_found"
	default:
		return "server_error", http.StatusInternalServerError
	}
	return name, code.HTTPStatus()
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	name, status := externalError(err)
	if status == http.StatusInternalServerError {
		log.Printf("auth request failed: %v", err)
	}
	writeError(w, name, status)
}

func writeError(w http.ResponseWriter, name string, status int) {
	writeJSON(w, status, errorResponse{Error: name})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeRawJSON(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}
