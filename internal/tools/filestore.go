package tools

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
)

const defaultMaxUpload = 32 << 20

var errEscapesRoot = errors.New("path escapes the file store root")

// FileStore serves files under Root and, when Enabled, accepts WebDAV style
// PUT and DELETE requests. Mount it behind http.StripPrefix.
type FileStore struct {
	Root    string
	Enabled bool
	// MaxUpload bounds a PUT body in bytes; zero means 32MiB.
	MaxUpload int64
}

func (s *FileStore) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name, err := s.resolve(r.URL.Path)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet, http.MethodHead:
		s.get(w, r, name)
	case http.MethodPut, http.MethodDelete:
		if !s.Enabled {
			log.WithField("method", r.Method).Warn("File store writes are disabled")
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "WebDAV has not been enabled", http.StatusMethodNotAllowed)
			return
		}
		if name == filepath.Clean(s.Root) {
			http.Error(w, "Refusing to modify the file store root", http.StatusBadRequest)
			return
		}
		if r.Method == http.MethodPut {
			s.put(w, r, name)
		} else {
			s.delete(w, name)
		}
	default:
		w.Header().Set("Allow", "GET, HEAD, PUT, DELETE")
		http.Error(w, r.Method+" has not been implemented", http.StatusMethodNotAllowed)
	}
}

// resolve maps a request path to a file under Root.
func (s *FileStore) resolve(urlPath string) (string, error) {
	for _, seg := range strings.Split(urlPath, "/") {
		if seg == ".." {
			return "", errEscapesRoot
		}
	}
	clean := path.Clean("/" + urlPath)
	return filepath.Join(s.Root, filepath.FromSlash(clean)), nil
}

func (s *FileStore) get(w http.ResponseWriter, r *http.Request, name string) {
	f, err := os.Open(name)
	if err != nil {
		statusForFileError(w, err)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		statusForFileError(w, err)
		return
	}
	if info.IsDir() {
		entries, err := f.ReadDir(-1)
		if err != nil {
			statusForFileError(w, err)
			return
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			n := e.Name()
			if e.IsDir() {
				n += "/"
			}
			names = append(names, n)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(names)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// put writes the body to a temporary file and renames it into place so a
// failed upload never leaves a partial file behind.
func (s *FileStore) put(w http.ResponseWriter, r *http.Request, name string) {
	limit := s.MaxUpload
	if limit <= 0 {
		limit = defaultMaxUpload
	}
	if err := os.MkdirAll(filepath.Dir(name), 0755); err != nil {
		statusForFileError(w, err)
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".upload-*")
	if err != nil {
		statusForFileError(w, err)
		return
	}
	defer os.Remove(tmp.Name())

	_, err = io.Copy(tmp, http.MaxBytesReader(w, r.Body, limit))
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
			return
		}
		statusForFileError(w, err)
		return
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		statusForFileError(w, err)
		return
	}
	log.WithField("file", name).Info("Stored file")
	w.WriteHeader(http.StatusCreated)
}

// delete removes a file or an empty directory.
func (s *FileStore) delete(w http.ResponseWriter, name string) {
	if err := os.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			statusForFileError(w, err)
			return
		}
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	log.WithField("file", name).Info("Deleted file")
	w.WriteHeader(http.StatusNoContent)
}

func statusForFileError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		http.Error(w, "Not found", http.StatusNotFound)
	case errors.Is(err, fs.ErrPermission):
		http.Error(w, "Permission denied", http.StatusForbidden)
	default:
		log.WithError(err).Error("File store error")
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
