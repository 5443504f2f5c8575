// Package apitest provides an in-memory implementation of the marketplace
// REST API for tests.
package apitest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/matheus3301/handychat/internal/api"
	"github.com/matheus3301/handychat/internal/model"
)

// Route keys accepted by FailNext, Calls and Block.
const (
	RouteListConversations  = "GET /conversations"
	RouteCreateConversation = "POST /conversations"
	RouteListMessages       = "GET /conversations/{id}/messages"
	RouteSendMessage        = "POST /conversations/{id}/messages"
	RouteUpload             = "POST /attachments"
	RouteMarkRead           = "POST /conversations/{id}/read"
	RouteRegisterDevice     = "POST /devices"
	RouteUnregisterDevice   = "DELETE /devices/{token}"
)

// Server is a fake API backed by in-memory state.
type Server struct {
	*httptest.Server

	// Token, when set, is required as the bearer token on every request.
	Token string
	// SelfID is the sender ID assigned to submitted messages.
	SelfID string
	// PageSize bounds list responses. Defaults to 20.
	PageSize int

	mu            sync.Mutex
	seq           int
	now           time.Time
	conversations map[string]*model.Conversation
	messages      map[string][]model.Message
	uploads       map[string][]byte
	devices       map[string]string
	calls         map[string]int
	failures      map[string][]int
	blocks        map[string]chan struct{}
	sendHook      func(conversationID string, req api.SendMessageRequest)
}

// NewServer starts a fake API server. Close it with t.Cleanup(srv.Close).
func NewServer() *Server {
	s := &Server{
		SelfID:        "me",
		PageSize:      20,
		now:           time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
		uploads:       make(map[string][]byte),
		devices:       make(map[string]string),
		calls:         make(map[string]int),
		failures:      make(map[string][]int),
		blocks:        make(map[string]chan struct{}),
	}

	r := mux.NewRouter()
	r.Use(s.middleware)
	r.HandleFunc("/conversations", s.listConversations).Methods(http.MethodGet)
	r.HandleFunc("/conversations", s.createConversation).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/messages", s.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/conversations/{id}/messages", s.sendMessage).Methods(http.MethodPost)
	r.HandleFunc("/conversations/{id}/read", s.markRead).Methods(http.MethodPost)
	r.HandleFunc("/attachments", s.upload).Methods(http.MethodPost)
	r.HandleFunc("/devices", s.registerDevice).Methods(http.MethodPost)
	r.HandleFunc("/devices/{token}", s.unregisterDevice).Methods(http.MethodDelete)

	s.Server = httptest.NewServer(r)
	return s
}

// AddConversation seeds a conversation.
func (s *Server) AddConversation(c model.Conversation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := c
	s.conversations[c.ID] = &cp
}

// AddMessage seeds a message from another participant.
func (s *Server) AddMessage(m model.Message) model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = s.nextID("srv")
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = s.tick()
	}
	if m.Status == "" {
		m.Status = model.StatusSent
	}
	s.messages[m.ConversationID] = append(s.messages[m.ConversationID], m)
	if c, ok := s.conversations[m.ConversationID]; ok {
		c.LastMessagePreview = m.Preview(80)
		c.LastActivityAt = m.CreatedAt
		if m.SenderID != s.SelfID {
			c.UnreadCount++
		}
	}
	return m
}

// FailNext makes the next len(statuses) calls to route fail with the given
// HTTP statuses. A status of 0 drops the connection.
func (s *Server) FailNext(route string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[route] = append(s.failures[route], statuses...)
}

// Block holds every call to route until the returned function is called.
func (s *Server) Block(route string) (release func()) {
	ch := make(chan struct{})
	s.mu.Lock()
	s.blocks[route] = ch
	s.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.blocks, route)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// OnSend installs a hook invoked before a message is stored. The hook may
// block to reorder responses.
func (s *Server) OnSend(fn func(conversationID string, req api.SendMessageRequest)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendHook = fn
}

// Calls returns how many requests hit route.
func (s *Server) Calls(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[route]
}

// Messages returns the stored messages of a conversation in creation order.
func (s *Server) Messages(conversationID string) []model.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Message(nil), s.messages[conversationID]...)
}

// Conversation returns a copy of a stored conversation.
func (s *Server) Conversation(id string) (model.Conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.conversations[id]
	if !ok {
		return model.Conversation{}, false
	}
	return *c, true
}

// Upload returns the bytes stored for a remote URL.
func (s *Server) Upload(url string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.uploads[url]
	return b, ok
}

// Devices returns registered push tokens mapped to their platform.
func (s *Server) Devices() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.devices))
	for k, v := range s.devices {
		out[k] = v
	}
	return out
}

func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " "
		if route := mux.CurrentRoute(r); route != nil {
			tpl, _ := route.GetPathTemplate()
			key += tpl
		}

		s.mu.Lock()
		s.calls[key]++
		var status int
		failing := false
		if q := s.failures[key]; len(q) > 0 {
			status, s.failures[key] = q[0], q[1:]
			failing = true
		}
		block := s.blocks[key]
		token := s.Token
		s.mu.Unlock()

		if block != nil {
			select {
			case <-block:
			case <-r.Context().Done():
				return
			}
		}
		if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if failing {
			if status == 0 {
				if hj, ok := w.(http.Hijacker); ok {
					if conn, _, err := hj.Hijack(); err == nil {
						_ = conn.Close()
						return
					}
				}
				status = http.StatusBadGateway
			}
			writeError(w, status, http.StatusText(status))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) listConversations(w http.ResponseWriter, r *http.Request) {
	page := pageParam(r)
	s.mu.Lock()
	all := make([]model.Conversation, 0, len(s.conversations))
	for _, c := range s.conversations {
		all = append(all, *c)
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].LastActivityAt.Equal(all[j].LastActivityAt) {
			return all[i].LastActivityAt.After(all[j].LastActivityAt)
		}
		return all[i].ID < all[j].ID
	})
	items, p := paginate(all, page, s.pageSize())
	writeData(w, http.StatusOK, items, &p)
}

func (s *Server) createConversation(w http.ResponseWriter, r *http.Request) {
	var req api.CreateConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RecipientID == "" {
		writeError(w, http.StatusUnprocessableEntity, "recipient_id is required")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.conversations {
		for _, p := range c.Participants {
			if p.ID == req.RecipientID && c.JobID == req.JobID {
				writeData(w, http.StatusOK, *c, nil)
				return
			}
		}
	}
	c := &model.Conversation{
		ID:             s.nextID("conv"),
		JobID:          req.JobID,
		Participants:   []model.Participant{{ID: s.SelfID}, {ID: req.RecipientID}},
		LastActivityAt: s.tick(),
	}
	s.conversations[c.ID] = c
	writeData(w, http.StatusCreated, *c, nil)
}

func (s *Server) listMessages(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	page := pageParam(r)

	s.mu.Lock()
	_, known := s.conversations[id]
	stored := s.messages[id]
	// Page 1 holds the newest messages.
	newestFirst := make([]model.Message, len(stored))
	for i, m := range stored {
		newestFirst[len(stored)-1-i] = m
	}
	s.mu.Unlock()

	if !known {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	items, p := paginate(newestFirst, page, s.pageSize())
	writeData(w, http.StatusOK, items, &p)
}

func (s *Server) sendMessage(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var req api.SendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed body")
		return
	}
	if req.Body == "" && len(req.Attachments) == 0 {
		writeError(w, http.StatusUnprocessableEntity, "message is empty")
		return
	}

	s.mu.Lock()
	hook := s.sendHook
	_, known := s.conversations[id]
	s.mu.Unlock()
	if !known {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	if hook != nil {
		hook(id, req)
	}

	s.mu.Lock()
	// Resubmission of the same client ID returns the stored message.
	for _, m := range s.messages[id] {
		if req.ClientID != "" && m.ClientID == req.ClientID {
			s.mu.Unlock()
			writeData(w, http.StatusOK, m, nil)
			return
		}
	}
	msg := model.Message{
		ID:             s.nextID("msg"),
		ClientID:       req.ClientID,
		ConversationID: id,
		SenderID:       s.SelfID,
		Body:           req.Body,
		Attachments:    req.Attachments,
		CreatedAt:      s.tick(),
		Status:         model.StatusSent,
	}
	s.messages[id] = append(s.messages[id], msg)
	c := s.conversations[id]
	c.LastMessagePreview = msg.Preview(80)
	c.LastActivityAt = msg.CreatedAt
	s.mu.Unlock()

	writeData(w, http.StatusCreated, msg, nil)
}

func (s *Server) markRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.mu.Lock()
	c, ok := s.conversations[id]
	if ok {
		c.UnreadCount = 0
		for i := range s.messages[id] {
			s.messages[id][i].Read = true
		}
	}
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "conversation not found")
		return
	}
	writeData(w, http.StatusOK, map[string]bool{"ok": true}, nil)
}

func (s *Server) upload(w http.ResponseWriter, r *http.Request) {
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file part is required")
		return
	}
	defer func() { _ = file.Close() }()
	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "read file")
		return
	}

	s.mu.Lock()
	url := fmt.Sprintf("%s/files/%s/%s", s.URL, s.nextID("file"), header.Filename)
	s.uploads[url] = data
	s.mu.Unlock()
	writeData(w, http.StatusCreated, map[string]string{"url": url}, nil)
}

func (s *Server) registerDevice(w http.ResponseWriter, r *http.Request) {
	var req api.RegisterDeviceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeError(w, http.StatusUnprocessableEntity, "token is required")
		return
	}
	s.mu.Lock()
	s.devices[req.Token] = req.Platform
	s.mu.Unlock()
	writeData(w, http.StatusCreated, req, nil)
}

func (s *Server) unregisterDevice(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]
	s.mu.Lock()
	_, ok := s.devices[token]
	delete(s.devices, token)
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "device not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pageSize() int {
	if s.PageSize <= 0 {
		return 20
	}
	return s.PageSize
}

// nextID and tick must be called with mu held.
func (s *Server) nextID(prefix string) string {
	s.seq++
	return prefix + "-" + strconv.Itoa(s.seq)
}

func (s *Server) tick() time.Time {
	s.now = s.now.Add(time.Second)
	return s.now
}

func pageParam(r *http.Request) int {
	page, err := strconv.Atoi(r.URL.Query().Get("page"))
	if err != nil || page < 1 {
		return 1
	}
	return page
}

func paginate[T any](all []T, page, size int) ([]T, model.Pagination) {
	start := (page - 1) * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return append([]T{}, all[start:end]...), model.Pagination{Page: page, HasNext: end < len(all), TotalCount: len(all)}
}

func writeData(w http.ResponseWriter, status int, data any, p *model.Pagination) {
	body := map[string]any{"data": data}
	if p != nil {
		body["meta"] = map[string]any{"pagination": p}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"message": msg}})
}
