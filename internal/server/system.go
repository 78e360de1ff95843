package server

import (
	"net/http"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

type systemStatusPayload struct {
	Status        string  `json:"status"`
	UptimeSeconds int64   `json:"uptime_seconds"`
	Goroutines    int     `json:"goroutines"`
	HeapAllocMB   float64 `json:"heap_alloc_mb"`
	Load1         float64 `json:"load_1"`
	Load5         float64 `json:"load_5"`
	Load15        float64 `json:"load_15"`
	MemTotalMB    float64 `json:"mem_total_mb"`
	MemUsedPct    float64 `json:"mem_used_pct"`
	Dashboards    int     `json:"dashboards"`
	MessengerSend bool    `json:"messenger_send"`
}

// handleSystemStatus reports process and host health for the dashboard. Host
// figures come from /proc and read as zero on platforms without it.
func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	l1, l5, l15 := readLoadAvg("/proc/loadavg")
	totalKB, availKB := readMemInfo("/proc/meminfo")

	p := systemStatusPayload{
		Status:        "ok",
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		Goroutines:    runtime.NumGoroutine(),
		HeapAllocMB:   float64(ms.HeapAlloc) / (1 << 20),
		Load1:         l1,
		Load5:         l5,
		Load15:        l15,
		Dashboards:    s.hub.count(),
	}
	if totalKB > 0 {
		p.MemTotalMB = float64(totalKB) / 1024
		p.MemUsedPct = float64(totalKB-availKB) / float64(totalKB) * 100
	}
	if s.messenger != nil {
		p.MessengerSend = s.messenger.Enabled()
	}
	writeJSON(w, http.StatusOK, p)
}

type messengerSettingPayload struct {
	SendEnabled bool `json:"send_enabled"`
}

func (s *Server) handleGetMessengerSetting(w http.ResponseWriter, r *http.Request) {
	if s.messenger == nil {
		writeError(w, http.StatusServiceUnavailable, "messenger is not configured")
		return
	}
	writeJSON(w, http.StatusOK, messengerSettingPayload{SendEnabled: s.messenger.Enabled()})
}

// handleSetMessengerSetting flips outbound delivery without a restart. The
// toggle is persisted first so a crash right after cannot lose it.
func (s *Server) handleSetMessengerSetting(w http.ResponseWriter, r *http.Request) {
	if s.messenger == nil {
		writeError(w, http.StatusServiceUnavailable, "messenger is not configured")
		return
	}
	var p messengerSettingPayload
	if err := readJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.store.SetMessengerSend(r.Context(), p.SendEnabled); err != nil {
		writeStoreError(w, err)
		return
	}
	s.messenger.SetEnabled(p.SendEnabled)
	s.log.Info("messenger send toggled", "enabled", p.SendEnabled)
	writeJSON(w, http.StatusOK, messengerSettingPayload{SendEnabled: p.SendEnabled})
}

// readLoadAvg parses the first three fields of a /proc/loadavg style file.
// Zeroes on any failure.
func readLoadAvg(path string) (l1, l5, l15 float64) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, 0
	}
	fields := strings.Fields(string(raw))
	if len(fields) < 3 {
		return 0, 0, 0
	}
	l1, _ = strconv.ParseFloat(fields[0], 64)
	l5, _ = strconv.ParseFloat(fields[1], 64)
	l15, _ = strconv.ParseFloat(fields[2], 64)
	return l1, l5, l15
}

// readMemInfo pulls MemTotal and MemAvailable (in kB) out of a /proc/meminfo
// style file. Zeroes on any failure.
func readMemInfo(path string) (totalKB, availableKB int64) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0
	}
	for _, line := range strings.Split(string(raw), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		switch fields[0] {
		case "MemTotal:":
			totalKB, _ = strconv.ParseInt(fields[1], 10, 64)
		case "MemAvailable:":
			availableKB, _ = strconv.ParseInt(fields[1], 10, 64)
		}
	}
	return totalKB, availableKB
}
