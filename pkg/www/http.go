package www

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"runtime"
	"runtime/debug"
	"strconv"

	"github.com/cyclopcam/logs"
	"github.com/julienschmidt/httprouter"
)

// RunProtected runs handler inside a panic handler that recognizes HTTPError,
// and sends the appropriate HTTP response if a panic does occur.
func RunProtected(log logs.Log, w http.ResponseWriter, r *http.Request, handler func()) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		code := http.StatusInternalServerError
		var msg string
		switch v := rec.(type) {
		case HTTPError:
			code, msg = v.Code, v.Message
			log.Infof("Failed request %v: %v %v", r.URL.Path, code, msg)
		case *HTTPError:
			code, msg = v.Code, v.Message
			log.Infof("Failed request %v: %v %v", r.URL.Path, code, msg)
		case runtime.Error:
			msg = v.Error()
			log.Errorf("Runtime panic error %v: %v", r.URL.Path, v)
			log.Errorf("Stack Trace: %v", string(debug.Stack()))
		case error:
			msg = v.Error()
			log.Errorf("Panic error %v: %v", r.URL.Path, v)
		case string:
			msg = v
			log.Errorf("Panic string %v: %v", r.URL.Path, v)
		default:
			msg = "Unrecognized panic"
			log.Errorf("Unrecognized panic %v: %v", r.URL.Path, rec)
		}
		SendError(w, msg, code)
	}()

	handler()
}

// Handle adds a route to router that runs inside RunProtected
func Handle(log logs.Log, router *httprouter.Router, method, path string, handle httprouter.Handle) {
	router.Handle(method, path, func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		RunProtected(log, w, r, func() { handle(w, r, p) })
	})
}

// Returns the named query value as an int, or defaultValue if the item is missing.
// Panics with a 400 if the value is present, but not an integer.
func QueryIntOrDefault(r *http.Request, key string, defaultValue int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		PanicBadRequestf("Must specify an integer for %v", key)
	}
	return i
}

// Returns true if the query value is "1" or "true"
func QueryBool(r *http.Request, key string) bool {
	v := r.URL.Query().Get(key)
	return v == "1" || v == "true"
}

// ReadLimited reads the whole request body, but panics with a 413 if it is
// larger than maxBodyBytes
func ReadLimited(w http.ResponseWriter, r *http.Request, maxBodyBytes int64) []byte {
	if r.Body == nil {
		PanicBadRequestf("Request body is empty")
	}
	defer r.Body.Close()
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			Panic(http.StatusRequestEntityTooLarge, "Request body is too large")
		}
		PanicBadRequestf("Failed to read request body: %v", err)
	}
	return body
}

// Set cache headers instructing the client never to cache
func CacheNever(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

// SendError is like http.Error, but without the trailing newline
func SendError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(code)
	w.Write([]byte(message))
}

// SendJSON sends obj as an application/json response
func SendJSON(w http.ResponseWriter, obj any) {
	b, err := json.Marshal(obj)
	Check(err)
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
