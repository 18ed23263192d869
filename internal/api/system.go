package api

import (
	"net/http"
	"time"
)

// radioStatus is the link transport section of the health response.
type radioStatus struct {
	Initialized     bool   `json:"initialized"`
	FramesTx        uint64 `json:"frames_tx"`
	FramesRx        uint64 `json:"frames_rx"`
	FramesDropped   uint64 `json:"frames_dropped"`
	FramesMalformed uint64 `json:"frames_malformed"`
	SendTimeouts    uint64 `json:"send_timeouts"`
	SendFailures    uint64 `json:"send_failures"`
	LastActivity    string `json:"last_activity,omitempty"`
}

// healthResponse is the body of GET /api/health.
type healthResponse struct {
	Status      string       `json:"status"`
	Version     string       `json:"version"`
	Guests      int          `json:"guests"`
	Subscribers int          `json:"subscribers"`
	Radio       *radioStatus `json:"radio,omitempty"`
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Version:     s.version,
		Guests:      s.registry.Len(),
		Subscribers: s.fanout.Active(),
	}

	if s.linkStats != nil {
		st := s.linkStats()
		resp.Radio = &radioStatus{
			Initialized:     st.Initialized,
			FramesTx:        st.FramesTx,
			FramesRx:        st.FramesRx,
			FramesDropped:   st.FramesDropped,
			FramesMalformed: st.FramesMalformed,
			SendTimeouts:    st.SendTimeouts,
			SendFailures:    st.SendFailures,
		}
		if !st.LastActivity.IsZero() && st.LastActivity.Unix() > 0 {
			resp.Radio.LastActivity = st.LastActivity.UTC().Format(time.RFC3339)
		}
		if !st.Initialized {
			resp.Status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, resp)
}
