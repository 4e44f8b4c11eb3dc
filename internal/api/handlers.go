package api

import (
	"errors"
	"io"
	"log"
	"net/http"

	"form-relay/internal/metrics"
	"form-relay/internal/static"
)

const notFoundText = "Page Not Found"

func (a *API) Router() http.Handler {
	a.Routers.Get("/", a.htmlPage("index.html"))
	a.Routers.Get("/message.html", a.htmlPage("message.html"))
	a.Routers.Get("/style.css", a.staticFile("style.css"))
	a.Routers.Get("/logo.png", a.staticFile("logo.png"))

	a.Routers.Post("/message", a.SubmitMessage)

	a.Routers.NotFound(NotFound)
	a.Routers.MethodNotAllowed(NotFound)

	return a.Routers
}

// NotFound answers every unknown path or method.
func NotFound(w http.ResponseWriter, _ *http.Request) {
	http.Error(w, notFoundText, http.StatusNotFound)
}

// @Summary Submit the message form
// @Tags Messages
// @Accept x-www-form-urlencoded
// @Param username formData string true "Author"
// @Param message formData string true "Message text"
// @Success 302
// @Failure 400,413
// @Router /message [post]
func (a *API) SubmitMessage(w http.ResponseWriter, r *http.Request) {
	// The server reports 0, not -1, when a request carries neither
	// Content-Length nor Transfer-Encoding; only the header tells them apart.
	if r.Header.Get("Content-Length") == "" || r.ContentLength < 0 {
		metrics.Submissions.WithLabelValues("missing_length").Inc()
		http.Error(w, "Content-Length required", http.StatusBadRequest)
		return
	}
	if r.ContentLength > a.MaxBodyBytes {
		metrics.Submissions.WithLabelValues("too_large").Inc()
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return
	}

	body := make([]byte, r.ContentLength)
	if _, err := io.ReadFull(r.Body, body); err != nil {
		metrics.Submissions.WithLabelValues("short_body").Inc()
		log.Printf("[Ingress] Short body from %s: %v", r.RemoteAddr, err)
		http.Error(w, "request body shorter than Content-Length", http.StatusBadRequest)
		return
	}

	// The body is already form-encoded; forward it untouched and never
	// wait on the consumer.
	if err := a.Sender.Send(r.Context(), body); err != nil {
		log.Printf("[Ingress] Failed to forward submission: %v", err)
	}
	metrics.Submissions.WithLabelValues("accepted").Inc()

	http.Redirect(w, r, "/", http.StatusFound)
}

func (a *API) htmlPage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.serveAsset(w, name, "text/html; charset=utf-8")
	}
}

func (a *API) staticFile(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a.serveAsset(w, name, "")
	}
}

func (a *API) serveAsset(w http.ResponseWriter, name, contentType string) {
	asset, err := a.Assets.Open(name)
	if err != nil {
		if !errors.Is(err, static.ErrNotFound) {
			log.Printf("[Ingress] Failed to load %s: %v", name, err)
		}
		http.Error(w, notFoundText, http.StatusNotFound)
		return
	}

	if contentType == "" {
		contentType = asset.ContentType
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(asset.Body)
}
