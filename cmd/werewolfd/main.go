package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	werewolf "github.com/ldobbelsteen/sep-sub001"
)

type server struct {
	repo     werewolf.Repository
	log      *werewolf.ActionLog
	orch     *werewolf.Orchestrator
	hub      *hub
	narrator werewolf.Narrator
	logger   zerolog.Logger
}

func main() {
	fv := werewolf.RegisterFlags()
	flag.Parse()
	cfg := werewolf.LoadConfig(*fv.ConfigPath)
	fv.ApplyTo(&cfg)

	logger := werewolf.NewLogger(cfg)

	store, err := werewolf.OpenSQLStore(cfg.DB)
	if err != nil {
		logger.Fatal().Err(err).Str("db", cfg.DB).Msg("opening store failed")
	}
	defer store.Close()

	narrator, err := werewolf.NewNarrator(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("narrator setup failed")
	}

	s := &server{
		repo:     store,
		log:      werewolf.NewActionLog(store),
		orch:     werewolf.NewOrchestrator(store, logger),
		hub:      newHub(logger),
		narrator: narrator,
		logger:   logger,
	}
	go s.hub.run()
	defer s.hub.stop()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown failed")
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/instances", func(r chi.Router) {
		r.Post("/", s.handleCreateInstance)
		r.Route("/{instanceID}", func(r chi.Router) {
			r.Get("/", s.handleGetInstance)
			r.Post("/advance", s.handleAdvancePhase)
			r.Post("/players", s.handleAddPlayer)
			r.Route("/players/{userID}", func(r chi.Router) {
				r.Post("/role", s.handleAssignRole)
				r.Get("/abilities", s.handleEligibleAbilities)
				r.Get("/messages", s.handlePendingMessages)
			})
			r.Post("/actions", s.handlePerformAction)
			r.Post("/votes/{voteType}/ballots", s.handleSubmitVote)
		})
	})
	r.Post("/messages/{messageID}/fetch", s.handleFetchMessage)
	r.Get("/ws", s.handleWebSocket)

	return r
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn().Err(err).Msg("response encoding failed")
	}
}

// writeError maps domain errors onto HTTP statuses.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var game *werewolf.GameError
	status := http.StatusInternalServerError
	if errors.As(err, &game) {
		switch game.Kind {
		case werewolf.KindNoSuchMessage, werewolf.KindNoSuchVote:
			status = http.StatusNotFound
		case werewolf.KindInvalidTarget, werewolf.KindNoSuchAbility:
			status = http.StatusBadRequest
		default:
			status = http.StatusForbidden
		}
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *server) handleCreateInstance(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Speed werewolf.GameSpeed `json:"speed"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if body.Speed == "" {
		body.Speed = werewolf.SpeedNormal
	}

	inst := werewolf.InstanceRecord{
		ID:    uuid.NewString(),
		Day:   0,
		Phase: werewolf.PhaseMorning,
		Speed: body.Speed,
	}
	if err := s.repo.CreateInstance(r.Context(), inst); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, inst)
}

func (s *server) handleGetInstance(w http.ResponseWriter, r *http.Request) {
	inst, err := s.repo.Instance(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, inst)
}

func (s *server) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"user_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	p := werewolf.PlayerState{
		ID: werewolf.PlayerIdentifier{
			InstanceID: chi.URLParam(r, "instanceID"),
			UserID:     body.UserID,
		},
		Role:  werewolf.RoleTownsperson,
		Alive: true,
	}
	if err := s.repo.AddPlayer(r.Context(), p); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, p)
}

func (s *server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Role werewolf.RoleKind `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	id := werewolf.PlayerIdentifier{
		InstanceID: chi.URLParam(r, "instanceID"),
		UserID:     chi.URLParam(r, "userID"),
	}
	if err := s.orch.AssignRole(r.Context(), id, body.Role); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"role": string(body.Role)})
}

func (s *server) handlePerformAction(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID          string                      `json:"user_id"`
		Kind            werewolf.AbilityKind        `json:"kind"`
		PlayerTargets   []werewolf.PlayerIdentifier `json:"player_targets"`
		LocationTargets []string                    `json:"location_targets"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	req := werewolf.ActionRequest{
		Actor: werewolf.PlayerIdentifier{
			InstanceID: chi.URLParam(r, "instanceID"),
			UserID:     body.UserID,
		},
		Targets: werewolf.Targets{
			Players:   body.PlayerTargets,
			Locations: body.LocationTargets,
		},
	}
	actionID, err := s.orch.PerformAbility(r.Context(), req, body.Kind)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"action_id": actionID})
}

func (s *server) handleEligibleAbilities(w http.ResponseWriter, r *http.Request) {
	id := werewolf.PlayerIdentifier{
		InstanceID: chi.URLParam(r, "instanceID"),
		UserID:     chi.URLParam(r, "userID"),
	}
	abilities, err := s.orch.EligibleAbilities(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, abilities)
}

func (s *server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Voter  string                    `json:"voter"`
		Target werewolf.PlayerIdentifier `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	instanceID := chi.URLParam(r, "instanceID")
	voter := werewolf.PlayerIdentifier{InstanceID: instanceID, UserID: body.Voter}
	err := s.orch.SubmitVote(r.Context(), instanceID, chi.URLParam(r, "voteType"),
		voter, werewolf.Ballot{Voter: voter, Target: body.Target})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *server) handleAdvancePhase(w http.ResponseWriter, r *http.Request) {
	instanceID := chi.URLParam(r, "instanceID")
	if err := s.orch.AdvancePhase(r.Context(), instanceID); err != nil {
		s.writeError(w, err)
		return
	}

	inst, err := s.repo.Instance(r.Context(), instanceID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	nudge, _ := json.Marshal(map[string]any{
		"event": "phase_changed",
		"day":   inst.Day,
		"phase": inst.Phase,
	})
	s.hub.notifyInstance(instanceID, nudge)

	if inst.Phase == werewolf.PhaseMorning {
		s.narrateMorning(instanceID)
	}
	s.writeJSON(w, http.StatusOK, inst)
}

// narrateMorning streams an atmospheric recap of the night to the whole
// instance. Fire-and-forget; the game never waits on the narrator.
func (s *server) narrateMorning(instanceID string) {
	if s.narrator == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		players, err := s.repo.PlayersByInstance(ctx, instanceID)
		if err != nil {
			s.logger.Warn().Err(err).Msg("narrator: loading players failed")
			return
		}
		var events []string
		for _, p := range players {
			if !p.Alive {
				events = append(events, p.ID.UserID+" is dead")
			}
		}

		story, err := s.narrator.Narrate(ctx, events, func(chunk string) {
			nudge, _ := json.Marshal(map[string]string{"event": "story_chunk", "text": chunk})
			s.hub.notifyInstance(instanceID, nudge)
		})
		if err != nil {
			s.logger.Warn().Err(err).Str("instance", instanceID).Msg("narrator failed")
			return
		}
		nudge, _ := json.Marshal(map[string]string{"event": "story", "text": story})
		s.hub.notifyInstance(instanceID, nudge)
	}()
}

func (s *server) handlePendingMessages(w http.ResponseWriter, r *http.Request) {
	id := werewolf.PlayerIdentifier{
		InstanceID: chi.URLParam(r, "instanceID"),
		UserID:     chi.URLParam(r, "userID"),
	}
	messages, err := s.log.PendingMessagesFor(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, messages)
}

func (s *server) handleFetchMessage(w http.ResponseWriter, r *http.Request) {
	payload, err := s.log.FetchAndCompleteMessage(r.Context(), chi.URLParam(r, "messageID"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"payload": payload})
}
