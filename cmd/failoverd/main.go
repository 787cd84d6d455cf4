// Command failoverd runs a standalone failover transport against its
// configured candidate URIs and exposes the admin introspection surface
// over HTTP.
package main

import (
	"fmt"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/antmq/failover/internal/admin"
	"github.com/antmq/failover/internal/audit"
	"github.com/antmq/failover/internal/config"
	"github.com/antmq/failover/internal/failover"
	"github.com/antmq/failover/internal/pool"
	"github.com/antmq/failover/internal/wire"
)

func main() {
	cfg := config.Load()

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	log.SetLevel(level)
	log.SetFormatter(&log.JSONFormatter{})

	log.WithFields(log.Fields{
		"port": cfg.Port,
		"uris": cfg.URIs,
	}).Info("starting failoverd")

	ft := failover.New(cfg, nil)
	aud := audit.New()
	ft.SetTransportListener(&loggingListener{audit: aud})
	ft.Start()

	if cfg.URIFilePath != "" {
		fw, err := pool.NewFileURIWatcher(cfg.URIFilePath, ft.URIPool(), ft.RequestRebalance)
		if err != nil {
			log.WithError(err).Fatal("failoverd: uri file watcher")
		}
		if err := fw.Start(); err != nil {
			log.WithError(err).Fatal("failoverd: uri file watcher")
		}
		defer fw.Stop()
		log.WithField("path", cfg.URIFilePath).Info("watching uri file for changes")
	}

	router := setupRouter(ft, aud)

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.WithField("addr", addr).Info("listening")
	if err := router.Run(addr); err != nil {
		log.WithError(err).Fatal("server failed")
	}
}

func setupRouter(ft *failover.Transport, aud *audit.Audit) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	v1 := router.Group("/api/v1")
	h := admin.New(ft, aud)
	h.RegisterRoutes(v1)

	return router
}

// loggingListener forwards inbound commands to the audit window (for
// Messages) and logs connection lifecycle events.
type loggingListener struct {
	audit *audit.Audit
}

func (l *loggingListener) OnCommand(cmd *wire.Command) {
	if cmd.Type == wire.TypeMessage && cmd.Message != nil {
		if l.audit.MarkSeen(cmd.Message.MessageId) {
			log.WithField("messageId", cmd.Message.MessageId).Warn("failoverd: duplicate message delivered")
		}
	}
}

func (l *loggingListener) OnException(err error) {
	log.WithField("error", err).Error("failoverd: connection failure")
}

func (l *loggingListener) TransportInterrupted() {
	log.Warn("failoverd: transport interrupted")
}

func (l *loggingListener) TransportResumed() {
	log.Info("failoverd: transport resumed")
}
