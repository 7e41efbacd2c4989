package api

import (
	"encoding/json"
	"net/http"

	"banyanswarm/core"
	"banyanswarm/internal/apierr"
)

// authRequest is the wire shape of the POST /auth body: an AppManifest.
type authRequest struct {
	AppId       string `json:"appId"`
	DisplayName string `json:"displayName"`
	Version     string `json:"version"`
	Signature   []byte `json:"signature,omitempty"`
}

type authResponse struct {
	Token string `json:"token"`
}

// handleAuth implements POST /api/v2/auth: no bearer auth required, exchanges
// a validated AppManifest for a freshly minted BearerToken.
func (s *Server) handleAuth(w http.ResponseWriter, r *http.Request) {
	var req authRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apierr.New(apierr.ErrBadRequest, "malformed request body: "+err.Error()))
		return
	}
	manifest := core.AppManifest{
		AppId:       req.AppId,
		DisplayName: req.DisplayName,
		Version:     req.Version,
		Signature:   req.Signature,
	}
	mode, err := core.ValidateManifest(manifest, s.AxPublicKey)
	if err != nil {
		writeError(w, apierr.New(apierr.ErrInvalidManifest, err.Error()))
		return
	}
	token, err := core.CreateToken(s.NodeKey, s.CurrentCycle, s.TokenValidity, manifest.AppId, manifest.Version, mode)
	if err != nil {
		s.Log.Errorf("minting token for %s: %v", manifest.AppId, err)
		writeError(w, apierr.New(apierr.ErrInternal, "could not mint token"))
		return
	}
	writeJSON(w, authResponse{Token: token})
}
