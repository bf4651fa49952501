package resource

import (
	"log/slog"
	"sort"

	"github.com/Skryldev/socialhub/query"
)

// Deps are the collaborators shared by every endpoint.
type Deps struct {
	Store   Storage
	Dialect query.Dialect
	// Auth verifies bearer tokens and, for /token, basic credentials.
	Auth interface {
		Authenticator
		TokenIssuer
	}
	// Uploads may be nil, in which case /upload is not served.
	Uploads Uploader
	Info    Info
	Logger  *slog.Logger
}

// Service is the route table of the process. It is read-only after
// NewService returns.
type Service struct {
	endpoints map[string]Endpoint
}

// NewService builds one endpoint per catalog resource plus the fixed
// endpoints (ssouser, token, upload, developer).
func NewService(cat *Catalog, deps Deps) *Service {
	s := &Service{endpoints: make(map[string]Endpoint)}
	for _, d := range cat.Resources {
		s.add(NewResource(d, deps.Store, deps.Dialect, deps.Auth, deps.Logger))
	}
	s.add(NewWebhook(deps.Store, deps.Dialect, deps.Logger))
	if deps.Auth != nil {
		s.add(NewToken(deps.Auth))
	}
	if deps.Uploads != nil && deps.Auth != nil {
		s.add(NewUpload(deps.Uploads, deps.Auth))
	}
	s.add(NewDeveloper("developer", deps.Info, s.Routes))
	s.add(NewDeveloper("", deps.Info, s.Routes))
	return s
}

func (s *Service) add(e Endpoint) { s.endpoints[e.Route()] = e }

// Lookup returns the endpoint served on route. The root is route "".
func (s *Service) Lookup(route string) (Endpoint, bool) {
	e, ok := s.endpoints[route]
	return e, ok
}

// Routes lists the named routes in sorted order.
func (s *Service) Routes() []string {
	out := make([]string, 0, len(s.endpoints))
	for r := range s.endpoints {
		if r != "" {
			out = append(out, "/"+r)
		}
	}
	sort.Strings(out)
	return out
}
