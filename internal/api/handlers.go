package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hareem123931/mr-french/internal/models"
)

// chatRequest is the body of POST /chat. Channel may be omitted, in which
// case it is inferred from the speaking role and whether the mediator is
// addressed by name.
type chatRequest struct {
	Channel models.ChatChannel `json:"channel,omitempty"`
	Role    models.Role        `json:"role"`
	Text    string             `json:"text"`
}

// zoneRequest is the body of POST /zone.
type zoneRequest struct {
	Zone         models.Zone `json:"zone"`
	AuthorizedBy models.Role `json:"authorized_by"`
	Reason       string      `json:"reason,omitempty"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("not found"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("mr-french is running", nil))
}

func (s *Server) chatHandler(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Debug("Server.chatHandler: invalid body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON body"))
		return
	}
	channel := req.Channel
	if channel == "" {
		channel = inferChannel(req.Role, req.Text)
	}

	out, err := s.orchestrator.HandleTurn(r.Context(), channel, req.Role, req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		if isValidationError(err) {
			status = http.StatusBadRequest
		}
		slog.Error("Server.chatHandler: turn failed", "channel", channel, "role", req.Role, "error", err)
		writeJSONResponse(w, status, models.Error(err.Error()))
		return
	}
	slog.Info("Server.chatHandler: turn handled", "channel", channel, "role", req.Role)
	writeJSONResponse(w, http.StatusOK, models.Success(out))
}

// inferChannel routes a bare role to its conversation: mentions of the
// mediator go to the role's mediator channel, everything else to the direct
// guardian-dependent chat.
func inferChannel(role models.Role, text string) models.ChatChannel {
	mentionsMediator := strings.Contains(strings.ToLower(text), "mediator") ||
		strings.Contains(strings.ToLower(text), "mr. french") ||
		strings.Contains(strings.ToLower(text), "mr french")
	switch role {
	case models.RoleGuardian:
		if mentionsMediator {
			return models.ChannelGuardianMediator
		}
		return models.ChannelGuardianDependent
	case models.RoleDependent:
		if mentionsMediator {
			return models.ChannelDependentMediator
		}
		return models.ChannelGuardianDependent
	default:
		return models.ChannelGuardianMediator
	}
}

func (s *Server) historyHandler(w http.ResponseWriter, r *http.Request) {
	channel := models.ChatChannel(r.PathValue("channel"))
	turns, err := s.orchestrator.History(channel)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if turns == nil {
		turns = []models.ConversationTurn{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(turns))
}

func (s *Server) tasksHandler(w http.ResponseWriter, r *http.Request) {
	status := models.TaskStatus(r.URL.Query().Get("status"))
	tasks, err := s.orchestrator.Tasks(status)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if tasks == nil {
		tasks = []models.Task{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(tasks))
}

func (s *Server) getZoneHandler(w http.ResponseWriter, r *http.Request) {
	state, err := s.orchestrator.Zones().Zone()
	if err != nil {
		slog.Error("Server.getZoneHandler: read failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to read zone state"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(state))
}

func (s *Server) postZoneHandler(w http.ResponseWriter, r *http.Request) {
	var req zoneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("invalid JSON body"))
		return
	}
	if !models.IsValidRole(req.AuthorizedBy) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrInvalidRole.Error()))
		return
	}

	state, err := s.orchestrator.Zones().Propose(req.Zone, req.AuthorizedBy, req.Reason, time.Now().UTC())
	switch {
	case errors.Is(err, models.ErrNeedsAuthorization):
		// Not an error: the transition is held for guardian confirmation.
		writeJSONResponse(w, http.StatusAccepted,
			models.SuccessWithMessage("zone transition needs guardian authorization", state))
	case errors.Is(err, models.ErrInvalidZone):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
	case err != nil:
		slog.Error("Server.postZoneHandler: transition failed", "zone", req.Zone, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to change zone"))
	default:
		writeJSONResponse(w, http.StatusOK, models.Success(state))
	}
}

func (s *Server) analysisLogsHandler(w http.ResponseWriter, r *http.Request) {
	channel := models.ChatChannel(r.URL.Query().Get("channel"))
	logs, err := s.orchestrator.AnalysisLogs(channel)
	if err != nil {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}
	if logs == nil {
		logs = []models.AnalysisLogEntry{}
	}
	writeJSONResponse(w, http.StatusOK, models.Success(logs))
}

func (s *Server) resetHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.orchestrator.ResetAll(); err != nil {
		slog.Error("Server.resetHandler: reset failed", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("failed to reset state"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.SuccessWithMessage("all state cleared", nil))
}

// isValidationError classifies turn errors that map to 400 responses.
func isValidationError(err error) bool {
	return errors.Is(err, models.ErrInvalidChannel) ||
		errors.Is(err, models.ErrInvalidRole) ||
		errors.Is(err, models.ErrRoleNotInChannel) ||
		errors.Is(err, models.ErrEmptyText) ||
		errors.Is(err, models.ErrTurnTooLong)
}
