// Package live streams values to browsers as server-sent events.
package live

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
)

const HEARTBEAT = 25 * time.Second

// WatchFunc calls fn for every new value until ctx is cancelled or fn
// returns an error.
type WatchFunc func(ctx context.Context, fn func(interface{}) error) error

// Stream writes one `data:` frame per value in JSON, plus a comment line
// every heartbeat interval, until the client goes away.
func Stream(w http.ResponseWriter, r *http.Request, watch WatchFunc, heartbeat time.Duration) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported.", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var mutex sync.Mutex
	write := func(format string, args ...interface{}) error {
		mutex.Lock()
		defer mutex.Unlock()
		if _, err := fmt.Fprintf(w, format, args...); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := write(": ping\n\n"); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	err := watch(ctx, func(v interface{}) error {
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return write("data: %s\n\n", b)
	})
	if err != nil && ctx.Err() == nil {
		glog.Warningf("Live stream ended: %s", err)
		_ = write("event: error\ndata: %q\n\n", err.Error())
	}
	cancel()
	<-done
}

// Serve is Stream with the default heartbeat.
func Serve(w http.ResponseWriter, r *http.Request, watch WatchFunc) {
	Stream(w, r, watch, HEARTBEAT)
}
