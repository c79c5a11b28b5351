package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"sgsmart-bridge/internal/sgapi"
	"sgsmart-bridge/internal/store"
)

func (s *Server) handleAPIListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Devices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
		return
	}
	if devices == nil {
		devices = []*store.Device{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleAPIGetDevice(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	dev, err := s.coord.Device(uuid)
	if err != nil {
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
		return
	}
	s.writeJSON(w, http.StatusOK, dev)
}

type renameDeviceRequest struct {
	FriendlyName string `json:"friendly_name"`
}

func (s *Server) handleAPIRenameDevice(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")

	var req renameDeviceRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	dev, err := s.coord.Rename(uuid, req.FriendlyName)
	if err != nil {
		s.writeCommandError(w, uuid, "rename device", err)
		return
	}

	s.writeJSON(w, http.StatusOK, dev)
}

func (s *Server) handleAPIForgetDevice(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := s.coord.Forget(uuid); err != nil {
		s.writeCommandError(w, uuid, "forget device", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPITurnOn(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := s.coord.TurnOn(r.Context(), uuid); err != nil {
		s.writeCommandError(w, uuid, "turn on", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPITurnOff(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")
	if err := s.coord.TurnOff(r.Context(), uuid); err != nil {
		s.writeCommandError(w, uuid, "turn off", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type brightnessRequest struct {
	Percent int `json:"percent"`
}

func (s *Server) handleAPISetBrightness(w http.ResponseWriter, r *http.Request) {
	uuid := r.PathValue("uuid")

	var req brightnessRequest
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	if err := s.coord.SetBrightness(r.Context(), uuid, req.Percent); err != nil {
		s.writeCommandError(w, uuid, "set brightness", err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "uuid": uuid})
}

func (s *Server) handleAPIListSectors(w http.ResponseWriter, r *http.Request) {
	sectors := s.coord.Sectors()
	if sectors == nil {
		sectors = []store.Sector{}
	}
	s.writeJSON(w, http.StatusOK, sectors)
}

func (s *Server) handleAPIRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.coord.Refresh(r.Context()); err != nil {
		s.logger.Error("manual refresh", "err", err)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cloud refresh failed"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAPIStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.coord.Info())
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// writeCommandError maps coordinator errors onto HTTP status codes.
func (s *Server) writeCommandError(w http.ResponseWriter, uuid, op string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "device not found"})
	case errors.Is(err, sgapi.ErrInvalidArgument):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, sgapi.ErrAuthentication):
		s.logger.Error(op, "err", err, "uuid", uuid)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cloud authentication failed"})
	case errors.Is(err, sgapi.ErrCommunication), errors.Is(err, sgapi.ErrAPI):
		s.logger.Error(op, "err", err, "uuid", uuid)
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": "cloud unreachable"})
	default:
		s.logger.Error(op, "err", err, "uuid", uuid)
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}
