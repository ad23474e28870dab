package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/GuLopes14/echobeacon-core/internal/infrastructure/mqtt"
)

// connectionState is the body of GET /connection.
type connectionState struct {
	Status    mqtt.Status `json:"status"`
	BrokerURL string      `json:"broker_url,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// connectRequest overrides the configured broker settings for one connect.
// Every field is optional.
type connectRequest struct {
	BrokerURL string `json:"broker_url"`
	ClientID  string `json:"client_id"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

func (s *Server) connectionState() connectionState {
	state := connectionState{
		Status:    s.mqtt.Status(),
		BrokerURL: s.mqtt.BrokerURL(),
	}
	if err := s.mqtt.LastError(); err != nil {
		state.LastError = err.Error()
	}
	return state
}

// handleGetConnection returns the broker connection status.
func (s *Server) handleGetConnection(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.connectionState())
}

// handleConnect starts connecting to the broker. The response is sent as
// soon as the attempt has started; the outcome is pushed on the
// connection.status channel.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	opts := s.mqttOpts
	if req.BrokerURL != "" {
		opts.BrokerURL = req.BrokerURL
	}
	if req.ClientID != "" {
		opts.ClientID = req.ClientID
	}
	if req.Username != "" {
		opts.Username = req.Username
		opts.Password = req.Password
	}

	if err := s.mqtt.Connect(opts); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, s.connectionState())
}

// handleDisconnect closes the broker connection.
func (s *Server) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	s.mqtt.Disconnect()
	writeJSON(w, http.StatusOK, s.connectionState())
}

// publishRequest is the body of POST /messages.
type publishRequest struct {
	Topic   string `json:"topic"`
	Message string `json:"message"`
}

// handlePublish publishes a raw message. The topic defaults to the command
// topic. Every attempt is audited whatever its outcome.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	var req publishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Topic == "" {
		req.Topic = s.publisher.CommandTopic()
	}

	if err := s.publisher.Publish(req.Topic, req.Message); err != nil {
		s.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"topic": req.Topic, "published": true})
}
