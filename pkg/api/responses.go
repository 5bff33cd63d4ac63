package api

import (
	"github.com/darkhound-project/darkhound/pkg/models"
)

// TokenResponse is the token pair returned by login and refresh.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
}

// UserResponse renders an account without its password hash.
type UserResponse struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	IsActive bool   `json:"is_active"`
}

func toUserResponse(u *models.User) UserResponse {
	return UserResponse{
		ID:       u.ID,
		Username: u.Username,
		Role:     string(u.Role),
		IsActive: u.IsActive,
	}
}

// SessionResponse merges the persisted session row with any live
// runtime state.
type SessionResponse struct {
	ID        string `json:"id"`
	AssetID   string `json:"asset_id"`
	AnalystID string `json:"analyst_id"`
	State     string `json:"state"`
	Mode      string `json:"mode"`
	LockedBy  string `json:"locked_by,omitempty"`
}

func toSessionResponse(sess *models.Session) SessionResponse {
	return SessionResponse{
		ID:        sess.ID,
		AssetID:   sess.AssetID,
		AnalystID: sess.AnalystID,
		State:     string(sess.State),
		Mode:      string(sess.Mode),
		LockedBy:  sess.LockedBy,
	}
}

// HuntResponse renders a hunt execution without the raw observations
// column.
type HuntResponse struct {
	ID           string  `json:"id"`
	SessionID    string  `json:"session_id"`
	ModuleID     string  `json:"module_id"`
	State        string  `json:"state"`
	StartedAt    string  `json:"started_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	AIReportText string  `json:"ai_report_text,omitempty"`
}

func toHuntResponse(h *models.HuntExecution) HuntResponse {
	resp := HuntResponse{
		ID:           h.ID,
		SessionID:    h.SessionID,
		ModuleID:     h.ModuleID,
		State:        string(h.State),
		StartedAt:    h.StartedAt.UTC().Format("2006-01-02T15:04:05Z"),
		AIReportText: h.AIReportText,
	}
	if h.CompletedAt != nil {
		ts := h.CompletedAt.UTC().Format("2006-01-02T15:04:05Z")
		resp.CompletedAt = &ts
	}
	return resp
}
