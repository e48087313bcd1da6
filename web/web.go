// Package web is the request/response shell over the chat core: account
// signup/login, user search, conversation fetch, recent-chat summaries,
// message deletion and attachment upload.
package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/golang/glog"

	"github.com/duochat/duochat/account"
	"github.com/duochat/duochat/store"
)

const uploadMaxBytes = 100 << 20 // keep room for larger videos

type Server struct {
	accounts   *account.Store
	msgs       store.IMessageStore
	uploadsDir string
}

func NewServer(accounts *account.Store, msgs store.IMessageStore, uploadsDir string) *Server {
	return &Server{
		accounts:   accounts,
		msgs:       msgs,
		uploadsDir: uploadsDir,
	}
}

// Register installs all REST routes on mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/api/signup", s.handleSignup)
	mux.HandleFunc("/api/login", s.handleLogin)
	mux.HandleFunc("/api/users/search", s.handleSearch)
	mux.HandleFunc("/api/messages", s.handleMessages)
	mux.HandleFunc("/api/messages/delete", s.handleDelete)
	mux.HandleFunc("/api/chats/recent/", s.handleRecentChats)
	mux.HandleFunc("/api/upload", s.handleUpload)
}

func (s *Server) handleSignup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Username == "" || req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "username, email and password are required")
		return
	}

	uid, err := s.accounts.Create(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrEmailTaken) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			glog.Errorf("signup: %v", err)
			writeError(w, http.StatusInternalServerError, "signup failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "userId": uid})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		if errors.Is(err, account.ErrBadCredentials) {
			writeError(w, http.StatusUnauthorized, err.Error())
		} else {
			glog.Errorf("login: %v", err)
			writeError(w, http.StatusInternalServerError, "login failed")
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"userId":   user.ID,
		"username": user.Username,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	users, err := s.accounts.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		glog.Errorf("user search: %v", err)
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	user1, user2 := q.Get("user1"), q.Get("user2")
	if user1 == "" || user2 == "" {
		writeError(w, http.StatusBadRequest, "user1 and user2 are required")
		return
	}

	msgs, err := s.msgs.Conversation(r.Context(), user1, user2)
	if err != nil {
		glog.Errorf("get conversation: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch messages")
		return
	}
	if msgs == nil {
		msgs = []*store.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	var req struct {
		MessageIDs []string `json:"messageIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.msgs.DeleteMany(r.Context(), req.MessageIDs); err != nil {
		glog.Errorf("delete messages: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to delete messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (s *Server) handleRecentChats(w http.ResponseWriter, r *http.Request) {
	uid := strings.TrimPrefix(r.URL.Path, "/api/chats/recent/")
	if uid == "" || strings.Contains(uid, "/") {
		writeError(w, http.StatusBadRequest, "user id is required")
		return
	}

	chats, err := store.RecentChats(r.Context(), s.msgs, s.accounts, uid)
	if err != nil {
		glog.Errorf("recent chats: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch recent chats")
		return
	}
	if chats == nil {
		chats = []*store.ChatSummary{}
	}
	writeJSON(w, http.StatusOK, chats)
}

type uploadedFile struct {
	Filename string `json:"filename"`
	Path     string `json:"path"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST only")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploadMaxBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "no files")
		return
	}

	out := make([]*uploadedFile, 0, len(headers))
	for _, hdr := range headers {
		f, err := s.saveUpload(hdr)
		if err != nil {
			glog.Errorf("upload %s: %v", hdr.Filename, err)
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		out = append(out, f)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) saveUpload(hdr *multipart.FileHeader) (*uploadedFile, error) {
	src, err := hdr.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	mtype, err := mimetype.DetectReader(src)
	if err != nil {
		return nil, err
	}
	if !allowedUpload(mtype, hdr.Filename) {
		return nil, fmt.Errorf("unsupported file type: %s", mtype.String())
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(s.uploadsDir, 0750); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%d-%s", time.Now().UnixMilli(), filepath.Base(hdr.Filename))
	dst, err := os.Create(filepath.Join(s.uploadsDir, name))
	if err != nil {
		return nil, err
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return nil, err
	}

	return &uploadedFile{
		Filename: name,
		Path:     "/uploads/" + name,
	}, nil
}

var videoExts = map[string]struct{}{
	".mp4": {}, ".webm": {}, ".ogg": {}, ".mov": {}, ".avi": {}, ".wmv": {},
	".flv": {}, ".mkv": {}, ".3gp": {}, ".m4v": {},
}

func allowedUpload(mtype *mimetype.MIME, filename string) bool {
	m := mtype.String()
	if strings.HasPrefix(m, "image/") || strings.HasPrefix(m, "video/") ||
		mtype.Is("application/pdf") || mtype.Is("application/msword") {
		return true
	}
	// Some containers sniff as generic octet streams; fall back to the
	// extension for known video formats.
	_, ok := videoExts[strings.ToLower(filepath.Ext(filename))]
	return ok
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{"error": msg})
}
