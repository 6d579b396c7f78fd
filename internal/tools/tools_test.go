package tools

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckInNetwork(t *testing.T) {
	mw, err := CheckInNetwork([]string{"192.168.1.0/24", "fd00::/8"})
	require.NoError(t, err)
	h := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	tests := []struct {
		remote string
		want   int
	}{
		{"192.168.1.20:5000", http.StatusTeapot},
		{"192.168.2.20:5000", http.StatusForbidden},
		{"127.0.0.1:5000", http.StatusTeapot},
		{"[::1]:5000", http.StatusTeapot},
		{"[fd12::1]:5000", http.StatusTeapot},
		{"8.8.8.8:53", http.StatusForbidden},
		{"not-an-address", http.StatusBadRequest},
		{"host:80", http.StatusBadRequest},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, tt.want, rec.Code, tt.remote)
	}

	_, err = CheckInNetwork([]string{"192.168.1.0"})
	assert.Error(t, err)
}

func TestParseStartAndEndDate(t *testing.T) {
	loc := time.FixedZone("EDT", -4*60*60)

	req := httptest.NewRequest(http.MethodGet, "/?start=2024-06-01T08:00&end=2024-06-01T20:30", nil)
	start, end := ParseStartAndEndDate(req, loc)
	assert.Equal(t, "2024-06-01 12:00:00", start)
	assert.Equal(t, "2024-06-02 00:30:00", end)

	s, e, err := StartAndEndDateToTime(start, end)
	require.NoError(t, err)
	assert.Equal(t, 12*time.Hour+30*time.Minute, e.Sub(s))
}

func TestParseStartAndEndDateDefaultsToRecentWindow(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	start, end := ParseStartAndEndDate(req, nil)

	s, e, err := StartAndEndDateToTime(start, end)
	require.NoError(t, err)
	assert.Equal(t, DefaultRange, e.Sub(s))
	assert.WithinDuration(t, time.Now().UTC(), e, time.Minute)
}
