package server

import (
	"encoding/json"
	"lite-rpc/message"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type debugMethod struct {
	Signature string `json:"signature"`
	GoMethod  string `json:"go_method"`
	Returns   string `json:"returns,omitempty"`
	Calls     uint64 `json:"calls"`
}

type debugService struct {
	Name    string        `json:"name"`
	Version string        `json:"version,omitempty"`
	Key     string        `json:"key"`
	Methods []debugMethod `json:"methods"`
}

type debugState struct {
	Addr         string         `json:"addr,omitempty"`
	Codec        string         `json:"codec"`
	DecodeErrors uint64         `json:"decode_errors"`
	Services     []debugService `json:"services"`
}

// DebugHandler serves the registered services at /debug/rpc and Prometheus metrics at /metrics.
func (svr *Server) DebugHandler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/debug/rpc", svr.serveDebug)
	r.Get("/debug/rpc/{service}", svr.serveDebug)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

func (svr *Server) serveDebug(w http.ResponseWriter, r *http.Request) {
	filter := chi.URLParam(r, "service")

	state := debugState{
		Codec:        svr.opts.codec.Type().String(),
		DecodeErrors: svr.DecodeErrors(),
		Services:     []debugService{},
	}
	if addr := svr.Addr(); addr != nil {
		state.Addr = addr.String()
	}
	for _, s := range svr.services.list() {
		if filter != "" && filter != s.name {
			continue
		}
		ds := debugService{Name: s.name, Version: s.version, Key: message.ServiceKey(s.name, s.version)}
		for _, mt := range s.methods() {
			dm := debugMethod{Signature: mt.key(), GoMethod: mt.goName, Calls: mt.NumCalls()}
			if mt.ReplyType != nil {
				dm.Returns = message.TypeDescriptor(mt.ReplyType)
			}
			ds.Methods = append(ds.Methods, dm)
		}
		state.Services = append(state.Services, ds)
	}
	if filter != "" && len(state.Services) == 0 {
		http.Error(w, message.ErrServiceNotFound.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(state)
}
