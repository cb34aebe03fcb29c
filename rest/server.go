// Copyright 2026 The Pictrl Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/net/netutil"

	"github.com/pictrl/pictrl"
	"github.com/pictrl/pictrl/logstore"
	"github.com/pictrl/pictrl/supervisor"
)

const (
	timeFormat     = "2006-01-02 15:04:05"
	defaultRange   = 24 * time.Hour
	maxWait        = 5 * time.Minute
	sessionTimeout = 7 * 24 * time.Hour
	MaxConnections = 64
)

// Handler serves the administrative interface of a supervisor.
type Handler struct {
	h        *supervisor.Handle
	r        *mux.Router
	key      []byte
	sessions map[string]time.Time
	logger   *zap.Logger
	lock     sync.Mutex
}

func (h *Handler) internalError(w http.ResponseWriter, e error) {
	h.logger.Error("request failed", zap.Error(e))
	http.Error(w, e.Error(), http.StatusInternalServerError)
}

func (h *Handler) writeJson(w http.ResponseWriter, v interface{}) {
	if b, e := json.Marshal(v); e != nil {
		h.internalError(w, e)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.Write(b)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, e *Error) {
	if b, err := json.Marshal(e); err != nil {
		h.internalError(w, err)
	} else {
		w.Header().Set("Content-Type", mimeJson)
		w.WriteHeader(e.Code)
		w.Write(b)
	}
}

func (h *Handler) writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", mimeText)
	w.Write([]byte(s))
}

func (h *Handler) isAdmin(r *http.Request) bool {
	c, e := r.Cookie(sessionCookie)
	if e != nil {
		return false
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	exp, found := h.sessions[c.Value]
	if !found {
		return false
	}
	if time.Now().After(exp) {
		delete(h.sessions, c.Value)
		return false
	}
	return true
}

// admin guards handlers; anyone without a session is sent to the index.
func (h *Handler) admin(fn http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.isAdmin(r) {
			http.Redirect(w, r, "/", http.StatusSeeOther)
			return
		}
		fn(w, r)
	}
}

func (h *Handler) index(w http.ResponseWriter, r *http.Request) {
	if !h.isAdmin(r) {
		h.writeText(w, "pictrl: POST your key to /login\n")
		return
	}
	h.writeText(w, strings.Join([]string{
		"GET /logs?start=&end=&filters=",
		"GET /status",
		"GET /groups/{supervisor|active}/log?last=&wait=",
		"GET /info",
		"GET /restart",
		"GET /reboot",
		"GET /logout",
	}, "\n")+"\n")
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	key := r.FormValue("key")
	if bcrypt.CompareHashAndPassword(h.key, []byte(key)) == nil {
		id := uuid.NewString()
		h.lock.Lock()
		h.sessions[id] = time.Now().Add(sessionTimeout)
		h.lock.Unlock()
		http.SetCookie(w, &http.Cookie{
			Name:     sessionCookie,
			Value:    id,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
			MaxAge:   int(sessionTimeout / time.Second),
		})
	} else {
		h.h.Supervisor.Outf(supervisor.ServerNamespace,
			"Failed login from %s", r.RemoteAddr)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (h *Handler) logout(w http.ResponseWriter, r *http.Request) {
	if c, e := r.Cookie(sessionCookie); e == nil {
		h.lock.Lock()
		delete(h.sessions, c.Value)
		h.lock.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: sessionCookie, Path: "/", MaxAge: -1})
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func parseEpoch(s string, def time.Time) (time.Time, error) {
	if s == "" {
		return def, nil
	}
	f, e := strconv.ParseFloat(s, 64)
	if e != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return def, fmt.Errorf("bad time %q", s)
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), nil
}

func parseFilters(s string) []string {
	var rv []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			rv = append(rv, f)
		}
	}
	return rv
}

// FormatLine renders a line the way the log view shows it.
func FormatLine(l pictrl.LogLine) string {
	return fmt.Sprintf("%s [%s] %s", l.Time.Local().Format(timeFormat),
		l.Namespace, strings.TrimRight(l.Text, "\r\n"))
}

func (h *Handler) getLogs(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	q := r.URL.Query()
	start, e1 := parseEpoch(q.Get("start"), now.Add(-defaultRange))
	end, e2 := parseEpoch(q.Get("end"), now)
	if e1 != nil || e2 != nil {
		msg := fmt.Sprint(e1)
		if e1 == nil {
			msg = e2.Error()
		}
		h.writeError(w, &Error{http.StatusBadRequest, msg})
		return
	}
	filters := parseFilters(q.Get("filters"))

	var lines []pictrl.LogLine
	var e error
	if h.h.Store != nil {
		lines, e = h.h.Store.Query(start, end, filters, h.h.Logs()...)
		if e != nil {
			h.internalError(w, e)
			return
		}
	} else {
		for _, l := range logstore.Merge(h.h.Logs()...) {
			if !l.Time.Before(start) && !l.Time.After(end) &&
				logstore.Match(l.Namespace, filters) {
				lines = append(lines, l)
			}
		}
	}

	var sb strings.Builder
	for i, l := range lines {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(FormatLine(l))
	}
	h.writeText(w, sb.String())
}

func (h *Handler) findGroup(name string) (*pictrl.Group, *Error) {
	switch name {
	case GroupSupervisor:
		return h.h.Supervisor, nil
	case GroupActive:
		if g := h.h.Active.Get(); g != nil {
			return g, nil
		}
		return nil, &Error{http.StatusNotFound, "No active group"}
	}
	return nil, &Error{http.StatusNotFound, "Group not found"}
}

func (h *Handler) getGroupLog(w http.ResponseWriter, r *http.Request) {
	g, e := h.findGroup(mux.Vars(r)["group"])
	if e != nil {
		h.writeError(w, e)
		return
	}
	log := g.OutputLog()
	q := r.URL.Query()
	last, _ := strconv.ParseInt(q.Get("last"), 10, 64)
	if wait, err := strconv.Atoi(q.Get("wait")); err == nil && wait > 0 {
		d := time.Duration(wait) * time.Second
		if d > maxWait {
			d = maxWait
		}
		log.Watch(last, d)
	}
	recs, serial := log.GetRecords(last)
	if recs == nil {
		recs = []pictrl.LogLine{}
	}
	h.writeJson(w, &LogInfo{Serial: serial, Records: recs})
}

func (h *Handler) getStatus(w http.ResponseWriter, r *http.Request) {
	st := &Status{Groups: []GroupInfo{
		groupInfo(GroupSupervisor, h.h.Supervisor),
		groupInfo(GroupActive, h.h.Active.Get()),
	}}
	if h.h.Store != nil {
		st.LogsSince = h.h.Store.Start()
	}
	h.writeJson(w, st)
}

func (h *Handler) getInfo(w http.ResponseWriter, r *http.Request) {
	host, e := os.Hostname()
	if e != nil {
		h.internalError(w, e)
		return
	}
	var ips []string
	if addrs, e := net.InterfaceAddrs(); e == nil {
		for _, a := range addrs {
			if n, isNet := a.(*net.IPNet); isNet && !n.IP.IsLoopback() {
				ips = append(ips, n.IP.String())
			}
		}
	}
	h.writeJson(w, map[string]string{
		"hostname":   host,
		"ip_address": strings.Join(ips, " "),
	})
}

func (h *Handler) restart(w http.ResponseWriter, r *http.Request) {
	if h.h.Restart() {
		h.writeText(w, "Restarted")
	} else {
		h.writeText(w, "No process to restart")
	}
}

func (h *Handler) reboot(w http.ResponseWriter, r *http.Request) {
	if e := h.h.Reboot(); e != nil {
		h.internalError(w, e)
		return
	}
	h.writeText(w, "Rebooting")
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	h.r.ServeHTTP(w, req)
}

// ErrNoKey is returned by NewHandler when no admin key is configured.
var ErrNoKey = errors.New("no admin key configured")

// NewHandler returns a Handler for the supervisor behind sh.  Logging in
// requires key, which must not be empty.
func NewHandler(sh *supervisor.Handle, key string, logger *zap.Logger) (*Handler, error) {
	if key == "" {
		return nil, ErrNoKey
	}
	hash, e := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if e != nil {
		return nil, fmt.Errorf("hashing admin key: %w", e)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := mux.NewRouter()
	h := &Handler{
		h:        sh,
		r:        r,
		key:      hash,
		sessions: make(map[string]time.Time),
		logger:   logger,
	}
	r.HandleFunc("/", h.index).Methods("GET")
	r.HandleFunc("/login", h.login).Methods("POST")
	r.HandleFunc("/logout", h.logout).Methods("GET")
	r.HandleFunc("/logs", h.admin(h.getLogs)).Methods("GET")
	r.HandleFunc("/status", h.admin(h.getStatus)).Methods("GET")
	r.HandleFunc("/groups/{group}/log", h.admin(h.getGroupLog)).Methods("GET")
	r.HandleFunc("/info", h.admin(h.getInfo)).Methods("GET")
	r.HandleFunc("/restart", h.admin(h.restart)).Methods("GET")
	r.HandleFunc("/reboot", h.admin(h.reboot)).Methods("GET")
	return h, nil
}

// Serve accepts connections on addr, at most MaxConnections at a time,
// until the listener fails.
func Serve(addr string, handler http.Handler) error {
	l, e := net.Listen("tcp", addr)
	if e != nil {
		return e
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.Serve(netutil.LimitListener(l, MaxConnections))
}
