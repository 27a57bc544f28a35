package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
)

const httpShutdownTimeout = 5 * time.Second

type addrRequest struct {
	Addr string `json:"addr" binding:"required"`
}

type bootRequest struct {
	Motes []string `json:"motes"`
}

type ebmRequest struct {
	Enable bool `json:"enable"`
}

// Router builds the HTTP command surface. Every operation is a POST
// under /rpc, a success wraps its payload in {"result": ...}, a fault
// comes back as {"code": ..., "message": ...} with a matching status.
func (self *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "mode": self.mode.String()})
	})

	rpc := r.Group("/rpc")
	rpc.POST("/get_mote_dict", func(c *gin.Context) {
		ok(c, self.MoteDict())
	})
	rpc.POST("/boot_motes", func(c *gin.Context) {
		var req bootRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, newFault(FaultBadRequest, "boot_motes: %s", err))
			return
		}
		if fault := self.BootMotes(req.Motes); fault != nil {
			fail(c, fault)
			return
		}
		ok(c, true)
	})
	rpc.POST("/set_root", func(c *gin.Context) {
		var req addrRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, newFault(FaultBadRequest, "set_root: %s", err))
			return
		}
		if fault := self.SetRoot(req.Addr); fault != nil {
			fail(c, fault)
			return
		}
		ok(c, true)
	})
	rpc.POST("/get_mote_state", func(c *gin.Context) {
		var req addrRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, newFault(FaultBadRequest, "get_mote_state: %s", err))
			return
		}
		reply, fault := self.MoteState(req.Addr)
		if fault != nil {
			fail(c, fault)
			return
		}
		ok(c, reply)
	})
	rpc.POST("/get_dagroot", func(c *gin.Context) {
		ok(c, self.DAGRoot())
	})
	rpc.POST("/get_dag", func(c *gin.Context) {
		ok(c, self.DAG())
	})
	rpc.POST("/get_motes_connectivity", func(c *gin.Context) {
		ok(c, self.Connectivity())
	})
	rpc.POST("/get_ebm_wireshark_enabled", func(c *gin.Context) {
		ok(c, self.EbmWiresharkEnabled())
	})
	rpc.POST("/set_ebm_wireshark_enabled", func(c *gin.Context) {
		var req ebmRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, newFault(FaultBadRequest, "set_ebm_wireshark_enabled: %s", err))
			return
		}
		prev := self.EbmEnable(req.Enable)
		ok(c, gin.H{"enabled": req.Enable, "was": prev})
	})
	rpc.POST("/get_ebm_stats", func(c *gin.Context) {
		ok(c, self.EbmStats())
	})
	rpc.POST("/shutdown", func(c *gin.Context) {
		ok(c, gin.H{"shutdown": true})
		self.Shutdown()
	})
	return r
}

// Serve runs the command surface until Shutdown, then drains in-flight
// requests.
func (self *Server) Serve(addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: self.Router(),
	}
	errch := make(chan error, 1)
	go func() { errch <- srv.ListenAndServe() }()
	self.Log.Infof("%s listening addr=%s", modName, addr)

	select {
	case err := <-errch:
		return errors.Annotatef(err, "%s listen addr=%s", modName, addr)
	case <-self.alive.StopChan():
	}
	ctx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Annotatef(err, "%s http shutdown", modName)
	}
	return nil
}

func ok(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, gin.H{"result": result})
}

func fail(c *gin.Context, f *Fault) {
	c.JSON(f.Code, f)
}
