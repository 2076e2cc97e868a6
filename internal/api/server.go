package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"voxcampaign/internal/auth"
	"voxcampaign/internal/bridge"
	"voxcampaign/internal/campaign"
	"voxcampaign/internal/lifecycle"
	"voxcampaign/internal/realtime"
	"voxcampaign/internal/store"
	"voxcampaign/internal/telephony"
	"voxcampaign/internal/webhook"
)

type Server struct {
	store     *store.Repository
	lifecycle *lifecycle.Manager
	scheduler *campaign.Scheduler
	hub       *realtime.Hub
	ingestor  *webhook.Ingestor
	telephony telephony.Provider

	newBridge     func() *bridge.Bridge
	recordingsDir string

	router chi.Router
}

type Dependencies struct {
	Store         *store.Repository
	Lifecycle     *lifecycle.Manager
	Scheduler     *campaign.Scheduler
	Hub           *realtime.Hub
	Ingestor      *webhook.Ingestor
	Telephony     telephony.Provider
	NewBridge     func() *bridge.Bridge
	RecordingsDir string
}

func NewServer(deps Dependencies) *Server {
	s := &Server{
		store:         deps.Store,
		lifecycle:     deps.Lifecycle,
		scheduler:     deps.Scheduler,
		hub:           deps.Hub,
		ingestor:      deps.Ingestor,
		telephony:     deps.Telephony,
		newBridge:     deps.NewBridge,
		recordingsDir: deps.RecordingsDir,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Post("/outbound-call", s.handleOutboundCall)

	r.Post("/webhooks/carrier-status", s.ingestor.CarrierStatus)
	r.Post("/webhooks/agent-transcript", s.ingestor.AgentTranscript)

	r.Get("/rt", s.handleRealtime)
	r.Get("/outbound-media-stream", s.handleMediaStream)

	r.Route("/api/db", func(r chi.Router) {
		r.Get("/calls/{callSid}", s.getCall)
		r.Get("/calls", s.listCalls)
		r.Get("/calls/actions/export", s.exportCalls)
		r.Get("/events/{callSid}", s.listEvents)
		r.Post("/events", s.createEvent)
		r.Get("/contacts", s.listContacts)
		r.Get("/campaigns", s.listCampaigns)
		r.Get("/campaigns/active", s.listActiveCampaigns)
		r.Get("/campaigns/{id}", s.getCampaign)
		r.Get("/campaigns/{id}/progress", s.getCampaignProgress)

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware)
			r.Use(auth.RequireRole(auth.RoleOperator))
			r.Put("/calls/{callSid}/status", s.updateCallStatus)
			r.Delete("/calls/{callSid}", s.deleteCall)
			r.Post("/campaigns", s.createCampaign)
			r.Put("/campaigns/{id}", s.updateCampaign)
			r.Delete("/campaigns/{id}", s.deleteCampaign)
			r.Post("/campaigns/{id}/start", s.startCampaign)
			r.Post("/campaigns/{id}/pause", s.pauseCampaign)
			r.Post("/campaigns/{id}/resume", s.resumeCampaign)
			r.Post("/campaigns/{id}/stop", s.stopCampaign)
			r.Post("/campaigns/{id}/cancel", s.stopCampaign)
			r.Post("/campaigns/start-from-csv", s.startCampaignFromCSV)
			r.Post("/contacts/import", s.importContacts)
		})
	})

	r.Get("/api/recordings/{recordingSid}/download", s.downloadRecording)

	s.router = r
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	realtime.ServeWS(s.hub, w, r)
}

func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	b := s.newBridge()
	go func() {
		ctx := context.Background()
		if err := b.Run(ctx, conn); err != nil {
			_ = err // already reported to the lifecycle manager as a termination cause
		}
	}()
}
