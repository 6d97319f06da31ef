// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 500 * time.Millisecond

// Watches the conf dir for changes to any .json file and invokes the
// callback with the changed file's base name. Bursts of writes to the
// same file are coalesced
type Watcher struct {
	watcher *fsnotify.Watcher
	log     *slog.Logger
	done    chan struct{}
}

func Watch(dir string, onChange func(name string), log *slog.Logger) (*Watcher, error) {
	if log == nil {
		log = slog.Default()
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	w := &Watcher{watcher: fsw, log: log, done: make(chan struct{})}
	go w.run(onChange)
	return w, nil
}

func (w *Watcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}

func (w *Watcher) run(onChange func(name string)) {
	pending := map[string]time.Time{}
	ticker := time.NewTicker(watchDebounce)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Write) && !ev.Op.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			pending[filepath.Base(ev.Name)] = time.Now()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watch error", "error", err)
		case now := <-ticker.C:
			for name, t := range pending {
				if now.Sub(t) < watchDebounce {
					continue
				}
				delete(pending, name)
				w.log.Info("config file changed", "file", name)
				onChange(name)
			}
		case <-w.done:
			return
		}
	}
}
