package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jjnetworks/notify/internal/domain"
)

const dateLayout = "2006-01-02"

type clientPayload struct {
	ID             int64   `json:"id,omitempty"`
	Name           string  `json:"name"`
	MessengerID    string  `json:"messenger_id"`
	GroupName      string  `json:"group_name"`
	ConnectionName string  `json:"connection_name"`
	State          string  `json:"state,omitempty"`
	Status         string  `json:"status,omitempty"`
	SpeedLimit     string  `json:"speed_limit,omitempty"`
	AmtMonthly     float64 `json:"amt_monthly,omitempty"`
	BillingDate    string  `json:"billing_date,omitempty"`
}

type templatePayload struct {
	ID      int64  `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

type messageLogPayload struct {
	ID        int64  `json:"id"`
	ClientID  int64  `json:"client_id"`
	Title     string `json:"title"`
	Message   string `json:"message"`
	Status    string `json:"status"`
	CreatedAt string `json:"created_at"`
	SentAt    string `json:"sent_at,omitempty"`
}

type idsPayload struct {
	IDs []int64 `json:"ids"`
}

type sendPayload struct {
	ClientID int64  `json:"client_id"`
	Title    string `json:"title"`
	Message  string `json:"message"`
}

type errorPayload struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorPayload{Error: msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	return dec.Decode(v)
}

// writeStoreError maps well-known sentinels to HTTP statuses.
func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrClientNotFound), errors.Is(err, domain.ErrTemplateNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(r.PathValue("id"), 10, 64)
}

func clientToPayload(c domain.Client) clientPayload {
	p := clientPayload{
		ID:             c.ID,
		Name:           c.Name,
		MessengerID:    c.MessengerID,
		GroupName:      c.GroupName,
		ConnectionName: c.ConnectionName,
		State:          string(c.State),
		Status:         string(c.Status),
		SpeedLimit:     c.SpeedLimit,
		AmtMonthly:     c.AmtMonthly,
	}
	if c.BillingDate != nil {
		p.BillingDate = c.BillingDate.Format(dateLayout)
	}
	return p
}

func payloadToClient(p clientPayload) (domain.Client, error) {
	c := domain.Client{
		ID:             p.ID,
		Name:           strings.TrimSpace(p.Name),
		MessengerID:    strings.TrimSpace(p.MessengerID),
		GroupName:      strings.ToUpper(strings.TrimSpace(p.GroupName)),
		ConnectionName: strings.TrimSpace(p.ConnectionName),
		State:          domain.StateUnknown,
		Status:         domain.BillingUnknown,
		SpeedLimit:     strings.TrimSpace(p.SpeedLimit),
		AmtMonthly:     p.AmtMonthly,
	}
	if c.Name == "" {
		return c, errors.New("name is required")
	}
	if c.ConnectionName == "" {
		return c, errors.New("connection_name is required")
	}
	if p.State != "" {
		state := domain.ConnectionState(strings.ToUpper(p.State))
		if !domain.ValidConnectionState(state) {
			return c, errors.New("invalid state")
		}
		c.State = state
	}
	if p.Status != "" {
		status := domain.BillingStatus(strings.ToUpper(p.Status))
		if !domain.ValidBillingStatus(status) {
			return c, errors.New("invalid status")
		}
		c.Status = status
	}
	if p.BillingDate != "" {
		due, err := time.Parse(dateLayout, p.BillingDate)
		if err != nil {
			return c, errors.New("invalid billing_date, want YYYY-MM-DD")
		}
		c.BillingDate = &due
	}
	return c, nil
}

func (s *Server) handleListClients(w http.ResponseWriter, r *http.Request) {
	clients, err := s.store.ListClients(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]clientPayload, 0, len(clients))
	for _, c := range clients {
		out = append(out, clientToPayload(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	c, err := s.store.GetClient(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientToPayload(c))
}

func (s *Server) handleCreateClient(w http.ResponseWriter, r *http.Request) {
	var p clientPayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := payloadToClient(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := s.store.CreateClient(r.Context(), c)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("client created", "id", created.ID, "connection", created.ConnectionName)
	writeJSON(w, http.StatusCreated, clientToPayload(created))
}

func (s *Server) handleUpdateClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	var p clientPayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	c, err := payloadToClient(p)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c.ID = id
	if err := s.store.UpdateClient(r.Context(), c); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, clientToPayload(c))
}

func (s *Server) handleDeleteClient(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	if err := s.store.DeleteClient(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetPaid(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid client id")
		return
	}
	c, err := s.billing.MarkPaid(r.Context(), id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	s.log.Info("client marked paid", "id", c.ID)
	writeJSON(w, http.StatusOK, clientToPayload(c))
}

func (s *Server) handleSetPaidBulk(w http.ResponseWriter, r *http.Request) {
	s.handleBulkStatus(w, r, func(ids []int64) (int64, error) {
		return s.billing.MarkPaidBulk(r.Context(), ids)
	})
}

func (s *Server) handleSetUnpaidBulk(w http.ResponseWriter, r *http.Request) {
	s.handleBulkStatus(w, r, func(ids []int64) (int64, error) {
		return s.billing.MarkUnpaidBulk(r.Context(), ids)
	})
}

func (s *Server) handleBulkStatus(w http.ResponseWriter, r *http.Request, apply func([]int64) (int64, error)) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	var p idsPayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(p.IDs) == 0 {
		writeError(w, http.StatusBadRequest, "ids is required")
		return
	}
	updated, err := apply(p.IDs)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	templates, err := s.store.ListTemplates(r.Context())
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]templatePayload, 0, len(templates))
	for _, t := range templates {
		out = append(out, templatePayload{ID: t.ID, Title: t.Title, Content: t.Content})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var p templatePayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(p.Title) == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	created, err := s.store.CreateTemplate(r.Context(), domain.Template{Title: strings.TrimSpace(p.Title), Content: p.Content})
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, templatePayload{ID: created.ID, Title: created.Title, Content: created.Content})
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	var p templatePayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	t := domain.Template{ID: id, Title: strings.TrimSpace(p.Title), Content: p.Content}
	if err := s.store.UpdateTemplate(r.Context(), t); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, templatePayload{ID: t.ID, Title: t.Title, Content: t.Content})
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid template id")
		return
	}
	if err := s.store.DeleteTemplate(r.Context(), id); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListMessageLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	logs, err := s.store.ListMessageLogs(r.Context(), limit)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]messageLogPayload, 0, len(logs))
	for _, m := range logs {
		p := messageLogPayload{
			ID:        m.ID,
			ClientID:  m.ClientID,
			Title:     m.Title,
			Message:   m.Message,
			Status:    m.Status,
			CreatedAt: m.CreatedAt.UTC().Format(time.RFC3339),
		}
		if m.SentAt != nil {
			p.SentAt = m.SentAt.UTC().Format(time.RFC3339)
		}
		out = append(out, p)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	if s.deliver == nil {
		writeError(w, http.StatusServiceUnavailable, "messenger is not configured")
		return
	}
	var p sendPayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if p.Message == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}
	client, err := s.store.GetClient(r.Context(), p.ClientID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	title := p.Title
	if title == "" {
		title = "MANUAL"
	}
	if err := s.deliver.Deliver(r.Context(), client, title, p.Message); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRunBilling(w http.ResponseWriter, r *http.Request) {
	if s.billing == nil {
		writeError(w, http.StatusServiceUnavailable, "billing is not configured")
		return
	}
	if err := s.billing.RunCycle(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
