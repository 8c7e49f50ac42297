package persist

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// SocketWatcher watches the directory containing the listening socket
// and invokes a callback if the socket file disappears out from under
// the server (an operator `rm`, a tmp cleaner, ...); the caller's
// callback is what actually re-creates the listener — see
// rpcserver.Server.Rebind, the intended use. The original C server
// never needed this — the socket lived as long as the process bound it
// and nothing else in its design touched the filesystem around it —
// but a socket file sitting in an ordinary, shared directory makes
// external tampering a real, observable event worth reacting to.
type SocketWatcher struct {
	w          *fsnotify.Watcher
	socketName string
	log        *logrus.Logger
}

// Watch starts watching socketPath's parent directory. onRemoved is
// called (from the watcher's own goroutine) whenever the socket file
// itself is removed.
func Watch(socketPath string, log *logrus.Logger, onRemoved func()) (*SocketWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(socketPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	sw := &SocketWatcher{w: w, socketName: filepath.Base(socketPath), log: log}

	go func() {
		for {
			select {
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != sw.socketName {
					continue
				}
				if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
					log.WithField("socket", socketPath).Warn("listening socket file disappeared")
					onRemoved()
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.WithError(err).Warn("socket watcher error")
			}
		}
	}()

	return sw, nil
}

func (sw *SocketWatcher) Close() error {
	return sw.w.Close()
}
