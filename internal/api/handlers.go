package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"procodus.dev/water-monitor/internal/ingest"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

type commandRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Message     string `json:"message"`
	Password    string `json:"password"`
}

func (a *API) getLatest(w http.ResponseWriter, r *http.Request) error {
	latest, err := a.readings.GetLatest(r.Context())
	if err != nil {
		return err
	}
	// A nil reading encodes as JSON null.
	writeJSON(w, http.StatusOK, latest)
	return nil
}

func (a *API) getHistory(w http.ResponseWriter, r *http.Request) error {
	history, err := a.readings.GetHistory(r.Context())
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, history)
	return nil
}

func (a *API) postReading(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}

	sub, err := ingest.DecodeSubmission(body)
	if err != nil {
		return err
	}

	stored, err := a.readings.SubmitReading(r.Context(), sub)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusCreated, stored)
	return nil
}

func (a *API) sendSMS(w http.ResponseWriter, r *http.Request) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}

	var req commandRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return badRequest("malformed JSON: "+err.Error(), err)
	}

	ack, err := a.commands.SendCommand(r.Context(), req.Password, req.PhoneNumber, req.Message)
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, ack)
	return nil
}

func (a *API) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, badRequest("request body too large", err)
		}
		return nil, badRequest("unreadable request body", err)
	}
	return body, nil
}
