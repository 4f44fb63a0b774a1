package handlers

import (
	"net/http"

	"github.com/bookoftales/tales/internal/httpserver/deps"
)

type poolStatus struct {
	Open    int `json:"open"`
	Idle    int `json:"idle"`
	Active  int `json:"active"`
	Pending int `json:"pending"`
	Max     int `json:"max"`
}

type healthzResponse struct {
	Status        string      `json:"status"`
	UptimeSeconds float64     `json:"uptime_seconds"`
	Version       string      `json:"version,omitempty"`
	Commit        string      `json:"commit,omitempty"`
	BuildDate     string      `json:"build_date,omitempty"`
	GoVersion     string      `json:"go_version,omitempty"`
	Pool          *poolStatus `json:"pool,omitempty"`
}

// Healthz reports liveness. It never touches the backing store.
func Healthz(d deps.Deps) http.HandlerFunc {
	start := d.StartTime
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthzResponse{
			Status:        "ok",
			Version:       d.Build.Version,
			Commit:        d.Build.Commit,
			BuildDate:     d.Build.BuildDate,
			GoVersion:     d.Build.GoVersion,
			UptimeSeconds: d.Now().Sub(start).Seconds(),
		}
		if d.Pool != nil {
			st := d.Pool.Stats()
			resp.Pool = &poolStatus{Open: st.Open, Idle: st.Idle, Active: st.Active, Pending: st.Pending, Max: st.MaxConns}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
