// Package issuerhttp serves the state of an issuer connection as JSON.
package issuerhttp

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/cors"

	"github.com/strawpay/stroem-consumerj/issuer"
)

func New(c *issuer.Conn) http.Handler {
	m := http.NewServeMux()
	m.HandleFunc("/", handleSnapshot(c))
	return cors.Default().Handler(m)
}

func handleSnapshot(c *issuer.Conn) func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		type issuerEntity struct {
			Name      string
			PublicKey []byte
		}
		s := c.Snapshot()
		v := struct {
			SessionID      string
			Step           issuer.Step
			ServerID       issuer.ServerID
			Issuer         *issuerEntity `json:",omitempty"`
			MaxValue       int64
			ChannelTimeout time.Duration
			FreshChannel   bool
			Settling       bool
		}{
			SessionID:      s.SessionID.String(),
			Step:           s.Step,
			ServerID:       s.ServerID,
			MaxValue:       s.MaxValue,
			ChannelTimeout: s.ChannelTimeout,
			FreshChannel:   s.FreshChannel,
			Settling:       s.Settling,
		}
		if s.Issuer != nil {
			v.Issuer = &issuerEntity{Name: s.Issuer.Name, PublicKey: s.Issuer.PublicKey}
		}
		err := enc.Encode(v)
		if err != nil {
			panic(err)
		}
	}
}
