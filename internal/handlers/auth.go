package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MerlinStacks/overseek-sub004/internal/models"
	"github.com/MerlinStacks/overseek-sub004/internal/utils"
	"github.com/MerlinStacks/overseek-sub004/internal/websocket"
)

// login authenticates an operator and issues an access token
func (r *Router) login(w http.ResponseWriter, req *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload")
		return
	}

	var user models.UserAuth
	if err := r.db.Where("email = ? AND is_active = ?", body.Email, true).First(&user).Error; err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}
	if !utils.CheckPasswordHash(body.Password, user.Password) {
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	token, err := utils.GenerateToken(&user, r.cfg.JWTSecret)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Failed to generate token")
		return
	}

	now := time.Now().UTC()
	r.db.Model(&user).Update("last_login", now)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user":  user,
	})
}

// serveWS upgrades the connection to the job progress stream for one
// account. The token is passed as a query parameter because browsers
// cannot set headers on websocket requests.
func (r *Router) serveWS(w http.ResponseWriter, req *http.Request) {
	token := req.URL.Query().Get("token")
	if _, err := utils.ValidateToken(token, r.cfg.JWTSecret); err != nil {
		respondError(w, http.StatusUnauthorized, "Invalid or expired token")
		return
	}

	accountID, err := parseID(req.URL.Query().Get("account"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "account query parameter required")
		return
	}

	websocket.ServeWS(r.hub, w, req, accountID)
}
