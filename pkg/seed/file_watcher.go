// Package seed watches an on-disk bootstrap file and reseeds the Flag
// Store when it changes, validating its shape against a JSON schema
// before it is trusted. Grounded in the same filepath-provider idiom
// the rest of the corpus uses for file-based flag sync: fsnotify for
// the watch, gojsonschema for the shape check.
package seed

import (
	"encoding/json"
	"os"

	"github.com/flagkit/flagkit-go/pkg/errors"
	"github.com/flagkit/flagkit-go/pkg/model"
	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"
)

// bootstrapSchema describes the shape of a bootstrap file: an object
// mapping flag keys to flag-state-shaped values.
const bootstrapSchema = `{
  "type": "object",
  "additionalProperties": {
    "type": "object",
    "required": ["key"],
    "properties": {
      "key": {"type": "string", "minLength": 1},
      "value": {},
      "enabled": {"type": "boolean"},
      "version": {"type": "integer", "minimum": 0},
      "flagType": {"type": "string", "enum": ["boolean", "string", "number", "json"]},
      "lastModified": {"type": "string"}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(bootstrapSchema)

// FileWatcher watches Path for changes and invokes OnUpdate with the
// parsed flag set every time the file is written and validates. The
// zero value is not usable; construct with New.
type FileWatcher struct {
	Path     string
	OnUpdate func(map[string]model.FlagState)
	OnError  func(error)

	log     *logrus.Entry
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// New constructs a FileWatcher over path. A nil logger falls back to the
// standard logrus logger.
func New(path string, onUpdate func(map[string]model.FlagState), onError func(error), log *logrus.Entry) *FileWatcher {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &FileWatcher{Path: path, OnUpdate: onUpdate, OnError: onError, log: log}
}

// Start parses Path once, delivering the result synchronously, then
// begins watching it in the background for subsequent writes.
func (w *FileWatcher) Start() (map[string]model.FlagState, error) {
	flags, err := w.parse()
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return flags, errors.Wrap(errors.InternalError, "creating bootstrap file watcher", err)
	}
	if err := watcher.Add(w.Path); err != nil {
		watcher.Close()
		return flags, errors.Wrap(errors.InternalError, "watching bootstrap file", err)
	}
	w.watcher = watcher
	w.done = make(chan struct{})

	go w.watch()
	return flags, nil
}

// Stop closes the underlying watcher and its goroutine.
func (w *FileWatcher) Stop() {
	if w.watcher == nil {
		return
	}
	w.watcher.Close()
	<-w.done
}

func (w *FileWatcher) watch() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			flags, err := w.parse()
			if err != nil {
				w.log.WithError(err).Warn("bootstrap file reload failed")
				if w.OnError != nil {
					w.OnError(err)
				}
				continue
			}
			w.log.Infof("bootstrap file reloaded: %d flags", len(flags))
			if w.OnUpdate != nil {
				w.OnUpdate(flags)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.WithError(err).Warn("bootstrap file watcher error")
		}
	}
}

func (w *FileWatcher) parse() (map[string]model.FlagState, error) {
	raw, err := os.ReadFile(w.Path)
	if err != nil {
		return nil, errors.Wrap(errors.ConfigMissingRequired, "reading bootstrap file", err)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return nil, errors.Wrap(errors.SecurityBootstrapInvalid, "validating bootstrap file schema", err)
	}
	if !result.Valid() {
		return nil, errors.New(errors.SecurityBootstrapInvalid, "bootstrap file does not match the expected schema")
	}

	var flags map[string]model.FlagState
	if err := json.Unmarshal(raw, &flags); err != nil {
		return nil, errors.Wrap(errors.SecurityBootstrapInvalid, "decoding bootstrap file", err)
	}
	for key, flag := range flags {
		flag.Key = key
		flags[key] = flag
	}
	return flags, nil
}
