package server

import (
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdmissionOriginLimit(t *testing.T) {
	m := NewMetrics()
	a := NewAdmission(100, 10, m)

	seen := make(map[uint32]bool)
	for i := 0; i < 10; i++ {
		id, reason := a.Admit("10.0.0.1")
		require.Equal(t, Admitted, reason, "connection %d", i+1)
		assert.False(t, seen[id], "ids are never reused")
		seen[id] = true
	}
	_, reason := a.Admit("10.0.0.1")
	assert.Equal(t, RejectOriginLimit, reason)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.Rejected))

	// 其它来源不受影响
	_, reason = a.Admit("10.0.0.2")
	assert.Equal(t, Admitted, reason)

	a.Release("10.0.0.1")
	_, reason = a.Admit("10.0.0.1")
	assert.Equal(t, Admitted, reason)
	assert.Equal(t, 11, a.Live())
	assert.Equal(t, 2, a.Origins())
}

func TestAdmissionTotalLimit(t *testing.T) {
	m := NewMetrics()
	a := NewAdmission(2, 10, m)

	_, r1 := a.Admit("a")
	_, r2 := a.Admit("b")
	_, r3 := a.Admit("c")
	assert.Equal(t, Admitted, r1)
	assert.Equal(t, Admitted, r2)
	assert.Equal(t, RejectTotalLimit, r3)

	a.Release("a")
	_, r4 := a.Admit("c")
	assert.Equal(t, Admitted, r4)
	assert.Equal(t, int64(1), atomic.LoadInt64(&m.Rejected))
}

func TestAdmissionNoOrigin(t *testing.T) {
	m := NewMetrics()
	a := NewAdmission(10, 10, m)
	_, reason := a.Admit("")
	assert.Equal(t, RejectNoOrigin, reason)
	assert.Equal(t, 0, a.Live())
	assert.Equal(t, "no_origin", reason.String())
}

func TestAdmissionReleaseUnknownOrigin(t *testing.T) {
	a := NewAdmission(10, 10, NewMetrics())
	a.Release("nobody")
	assert.Equal(t, 0, a.Live())
}

func TestAdmissionSetLimits(t *testing.T) {
	a := NewAdmission(10, 1, NewMetrics())
	_, reason := a.Admit("x")
	require.Equal(t, Admitted, reason)
	_, reason = a.Admit("x")
	require.Equal(t, RejectOriginLimit, reason)

	a.SetLimits(0, 3)
	total, origin := a.Limits()
	assert.Equal(t, 10, total)
	assert.Equal(t, 3, origin)
	_, reason = a.Admit("x")
	assert.Equal(t, Admitted, reason)

	// 下调上限不影响已建立的连接
	a.SetLimits(1, 1)
	assert.Equal(t, 2, a.Live())
	_, reason = a.Admit("y")
	assert.Equal(t, RejectTotalLimit, reason)
}

func TestOriginOf(t *testing.T) {
	r := httptest.NewRequest("GET", "/ws", nil)
	r.RemoteAddr = "192.168.1.5:51234"
	r.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")

	assert.Equal(t, "192.168.1.5", OriginOf(r, false))
	assert.Equal(t, "203.0.113.7", OriginOf(r, true))

	r.Header.Set("X-Forwarded-For", "garbage")
	assert.Equal(t, "192.168.1.5", OriginOf(r, true))

	r.RemoteAddr = "not-an-address"
	assert.Equal(t, "", OriginOf(r, false))
}
