package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temoto/meshview/config"
	"github.com/temoto/meshview/log2"
	"github.com/temoto/meshview/moteprobe"
)

func setupEmulated(t testing.TB, numMotes int) (*Server, *gin.Engine) {
	log := log2.NewTest(t, log2.LDebug)
	cfg := &config.Config{}
	cfg.Mode = "emulated"
	cfg.Emulated.NumMotes = numMotes
	cfg.Ebm.Enable = true
	s, err := New(cfg, log)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s, s.Router()
}

func doRPC(t testing.TB, router *gin.Engine, op string, body interface{}) (int, map[string]interface{}) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		bs, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(bs)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(http.MethodPost, "/rpc/"+op, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &parsed))
	return w.Code, parsed
}

func waitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s", what)
}

func waitAllSeen(t testing.TB, s *Server) {
	waitFor(t, "all motes seen", func() bool {
		for _, port := range s.MoteDict() {
			if port == nil {
				return false
			}
		}
		return true
	})
}

func portptr(s string) *string { return &s }

func TestParseMode(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]moteprobe.Mode{
		"serial":   moteprobe.ModeSerial,
		"emulated": moteprobe.ModeEmulated,
		"socket":   moteprobe.ModeSocket,
		"testbed":  moteprobe.ModeTestbed,
	} {
		mode, err := ParseMode(s)
		require.NoError(t, err)
		assert.Equal(t, want, mode)
	}
	_, err := ParseMode("simulation")
	require.Error(t, err)
}

func TestNewRejectsEmptyAttachment(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)

	cfg := &config.Config{}
	cfg.Mode = "socket"
	_, err := New(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no motes attached")

	cfg = &config.Config{}
	cfg.Mode = "testbed"
	_, err = New(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker_url")
}

func TestEmulatedRequiresNumMotes(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg := &config.Config{}
	cfg.Mode = "emulated"
	_, err := New(cfg, log)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "num_motes")
}

func TestAutoBootAndRoot(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg := &config.Config{}
	cfg.Mode = "emulated"
	cfg.Emulated.NumMotes = 2
	cfg.Emulated.AutoBoot = true
	cfg.Root = "emulated2"
	s, err := New(cfg, log)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	for _, m := range s.engine.Motes() {
		assert.True(t, m.PoweredOn())
	}
	assert.Equal(t, "0002", s.DAGRoot())
}

func TestRootWithoutAutoBoot(t *testing.T) {
	t.Parallel()
	log := log2.NewTest(t, log2.LDebug)
	cfg := &config.Config{}
	cfg.Mode = "emulated"
	cfg.Emulated.NumMotes = 1
	cfg.Root = "emulated1"
	s, err := New(cfg, log)
	require.NoError(t, err)
	t.Cleanup(s.Close)

	// root request is ignored with a warning, motes stay off
	assert.False(t, s.engine.Mote(1).PoweredOn())
	assert.Equal(t, "", s.DAGRoot())
}

func TestBootMotes(t *testing.T) {
	t.Parallel()
	s, router := setupEmulated(t, 3)

	// addresses unknown before boot: keyed by port, null value
	assert.Equal(t, map[string]*string{
		"emulated1": nil,
		"emulated2": nil,
		"emulated3": nil,
	}, s.MoteDict())

	code, resp := doRPC(t, router, "boot_motes", map[string]interface{}{"motes": []string{"all"}})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["result"])
	waitAllSeen(t, s)
	assert.Equal(t, map[string]*string{
		"0001": portptr("emulated1"),
		"0002": portptr("emulated2"),
		"0003": portptr("emulated3"),
	}, s.MoteDict())

	// all booted already
	code, resp = doRPC(t, router, "boot_motes", map[string]interface{}{"motes": []string{"all"}})
	require.Equal(t, FaultConflict, code)
	assert.Contains(t, resp["message"], "already booted")

	code, _ = doRPC(t, router, "boot_motes", map[string]interface{}{"motes": []string{"2"}})
	require.Equal(t, FaultConflict, code)
	code, _ = doRPC(t, router, "boot_motes", map[string]interface{}{"motes": []string{"7"}})
	require.Equal(t, FaultUnknownMote, code)
	code, _ = doRPC(t, router, "boot_motes", map[string]interface{}{"motes": []string{"two"}})
	require.Equal(t, FaultBadRequest, code)
	code, _ = doRPC(t, router, "boot_motes", map[string]interface{}{"motes": []string{}})
	require.Equal(t, FaultBadRequest, code)
}

func TestBootMotesValidatesBeforeActing(t *testing.T) {
	t.Parallel()
	s, _ := setupEmulated(t, 3)

	// one bad id in the list, nothing boots
	fault := s.BootMotes([]string{"1", "9"})
	require.NotNil(t, fault)
	assert.Equal(t, FaultUnknownMote, fault.Code)
	assert.False(t, s.engine.Mote(1).PoweredOn())

	require.Nil(t, s.BootMotes([]string{"1", "3"}))
	assert.True(t, s.engine.Mote(1).PoweredOn())
	assert.False(t, s.engine.Mote(2).PoweredOn())
	assert.True(t, s.engine.Mote(3).PoweredOn())
}

func TestSetRootAndTopology(t *testing.T) {
	t.Parallel()
	s, router := setupEmulated(t, 3)

	// neither a port nor an address of an attached mote
	code, _ := doRPC(t, router, "set_root", map[string]string{"addr": "COM7"})
	require.Equal(t, FaultUnknownMote, code)

	require.Nil(t, s.BootMotes([]string{"all"}))
	waitAllSeen(t, s)

	code, resp := doRPC(t, router, "get_dagroot", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "", resp["result"])

	// promotion by port name
	code, resp = doRPC(t, router, "set_root", map[string]string{"addr": "emulated2"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["result"])
	assert.Equal(t, "0002", s.DAGRoot())

	// same mote by address: already root
	code, resp = doRPC(t, router, "set_root", map[string]string{"addr": "0002"})
	require.Equal(t, FaultConflict, code)
	assert.Contains(t, resp["message"], "already DAG root")

	code, resp = doRPC(t, router, "get_mote_state", map[string]string{"addr": "0002"})
	require.Equal(t, http.StatusOK, code)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, "emulated2", result["portname"])
	status := result["status"].(map[string]interface{})
	assert.Equal(t, true, status["dagroot"])
	assert.Equal(t, true, status["sync"])

	// chain topology: 2→1, 3→2
	assert.Equal(t, []interface{}{
		map[string]interface{}{"child": "0002", "parent": "0001"},
		map[string]interface{}{"child": "0003", "parent": "0002"},
	}, func() []interface{} {
		_, resp := doRPC(t, router, "get_dag", nil)
		return resp["result"].([]interface{})
	}())

	g := s.Connectivity()
	assert.Equal(t, []string{"0001", "0002", "0003"}, g.Nodes)
	assert.Len(t, g.Edges, 2)

	_, resp = doRPC(t, router, "get_motes_connectivity", nil)
	assert.Len(t, resp["result"].(map[string]interface{})["nodes"], 3)
}

func TestEbmSurface(t *testing.T) {
	t.Parallel()
	s, router := setupEmulated(t, 2)

	require.Nil(t, s.BootMotes([]string{"all"}))
	waitAllSeen(t, s)

	// boot status frames were counted
	waitFor(t, "ebm counters", func() bool { return len(s.EbmStats()) == 2 })
	for port, st := range s.EbmStats() {
		assert.NotZero(t, st.Frames, port)
		assert.NotZero(t, st.Bytes, port)
	}

	code, resp := doRPC(t, router, "get_ebm_wireshark_enabled", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, resp["result"])

	code, resp = doRPC(t, router, "set_ebm_wireshark_enabled", map[string]bool{"enable": false})
	require.Equal(t, http.StatusOK, code)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["was"])
	assert.Equal(t, false, result["enabled"])

	code, resp = doRPC(t, router, "get_ebm_wireshark_enabled", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, resp["result"])

	code, resp = doRPC(t, router, "get_ebm_stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, resp["result"], 2)
}

func TestShutdown(t *testing.T) {
	t.Parallel()
	s, router := setupEmulated(t, 1)

	select {
	case <-s.StopChan():
		t.Fatal("stopped too early")
	default:
	}
	code, _ := doRPC(t, router, "shutdown", nil)
	require.Equal(t, http.StatusOK, code)
	select {
	case <-s.StopChan():
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not stop the server")
	}
}
