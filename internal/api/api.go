package api

import (
	"github.com/go-chi/chi/v5"

	"form-relay/internal/messaging"
	"form-relay/internal/static"
)

// API is the ingress handler. It never touches the document store; its only
// side effect is one payload on the datagram channel per accepted form.
type API struct {
	Routers      *chi.Mux
	Sender       messaging.Sender
	Assets       *static.Assets
	MaxBodyBytes int64
}

func NewAPI(sender messaging.Sender, assets *static.Assets, maxBodyBytes int64) *API {
	return &API{
		Routers:      chi.NewRouter(),
		Sender:       sender,
		Assets:       assets,
		MaxBodyBytes: maxBodyBytes,
	}
}
