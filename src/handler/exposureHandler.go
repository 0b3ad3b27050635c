package handler

import (
	"net/http"
	"time"

	"orderengine/src/auth"

	"github.com/gorilla/websocket"
	logger "github.com/sirupsen/logrus"
)

const (
	streamBuffer = 16
	writeWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func ExposureHandler(feed ExposureFeed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		snap, ok := feed.Latest(user.ID)
		if !ok {
			http.Error(w, "no exposure snapshot yet", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

// ExposureStreamHandler pushes every new exposure snapshot of the user over a
// websocket until the client goes away.
func ExposureStreamHandler(feed ExposureFeed) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := auth.GetUserFromContext(r.Context())
		if !ok || user == nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.WithError(err).Warn("exposure stream upgrade failed")
			return
		}
		defer conn.Close()

		stream, unsub := feed.Subscribe(user.ID, streamBuffer)
		defer unsub()

		// the client never sends anything useful; a read error means it left
		go func() {
			defer unsub()
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		log := logger.WithFields(map[string]interface{}{
			"component": "exposure_stream",
			"user_id":   user.ID,
		})
		log.Debug("subscriber connected")
		for snap := range stream {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(snap); err != nil {
				log.WithError(err).Debug("subscriber write failed")
				return
			}
		}
		log.Debug("subscriber disconnected")
	}
}
