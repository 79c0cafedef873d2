package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/phenomenon0/gameweek/pkg/bonus"
	"github.com/phenomenon0/gameweek/pkg/feed"
	"github.com/phenomenon0/gameweek/pkg/fixtures"
	"github.com/phenomenon0/gameweek/pkg/game"
	"github.com/phenomenon0/gameweek/pkg/league"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

type registerRequest struct {
	Name string `json:"name"`
}

type pickRequest struct {
	Outcome string `json:"outcome"`
}

type bonusRequest struct {
	Kind    string `json:"kind"`
	Enabled bool   `json:"enabled"`
}

type leagueRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
	PlayerID string `json:"player_id"`
}

type generateRequest struct {
	Round int `json:"round"`
}

// leagueView hides the password hash.
type leagueView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Members   []string  `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

// playerView adds the bonuses armed for the next lock.
type playerView struct {
	*game.Player
	Armed []bonus.Kind `json:"armed"`
}

func newPlayerView(p *game.Player) playerView {
	return playerView{Player: p, Armed: p.Bonuses.Snapshot().Kinds()}
}

type resultView struct {
	Outcome        fixtures.OutcomeID `json:"outcome"`
	GoalDifference int                `json:"goal_difference"`
}

// roundView lists known results in outcome order.
type roundView struct {
	*game.Round
	Results []resultView `json:"results"`
}

func newRoundView(r *game.Round) roundView {
	results := make([]resultView, 0, len(r.Results))
	for _, id := range r.Results.Keys() {
		results = append(results, resultView{Outcome: id, GoalDifference: r.Results[id]})
	}
	return roundView{Round: r, Results: results}
}

func newLeagueView(l *game.League) leagueView {
	members := l.Members
	if members == nil {
		members = []string{}
	}
	return leagueView{ID: l.ID, Name: l.Name, Members: members, CreatedAt: l.CreatedAt}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.Warn("health check failed", zap.Error(err))
			respondError(w, http.StatusServiceUnavailable, "store unhealthy")
			return
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	})
}

func (s *Server) handleKeepAlive(w http.ResponseWriter, r *http.Request) {
	result, err := s.heartbeat.Beat(r.Context())
	if err != nil {
		respondJSON(w, http.StatusInternalServerError, result)
		return
	}
	respondJSON(w, http.StatusOK, result)
}

func (s *Server) handleGetRound(w http.ResponseWriter, r *http.Request) {
	round, err := s.engine.Round(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newRoundView(round))
}

func (s *Server) handleOverallStandings(w http.ResponseWriter, r *http.Request) {
	table, err := s.leagues.Overall(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"standings": table})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := s.engine.Register(r.Context(), req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPlayer(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Player(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newPlayerView(p))
}

func (s *Server) handleGetHistory(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Player(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"history": p.History,
		"delayed": p.Delayed,
	})
}

func (s *Server) handlePick(w http.ResponseWriter, r *http.Request) {
	var req pickRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := fixtures.Parse(req.Outcome)
	if err != nil {
		if alt, altErr := fixtures.ParseDisplay(req.Outcome); altErr == nil {
			id, err = alt, nil
		}
	}
	if err != nil {
		s.fail(w, err)
		return
	}

	event, err := s.engine.Pick(r.Context(), chi.URLParam(r, "id"), id)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, event)
}

func (s *Server) handleBonus(w http.ResponseWriter, r *http.Request) {
	var req bonusRequest
	if !decode(w, r, &req) {
		return
	}
	kind, err := bonus.ParseKind(req.Kind)
	if err != nil {
		s.fail(w, err)
		return
	}
	p, err := s.engine.ToggleBonus(r.Context(), chi.URLParam(r, "id"), kind, req.Enabled)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newPlayerView(p))
}

func (s *Server) handleCreateLeague(w http.ResponseWriter, r *http.Request) {
	var req leagueRequest
	if !decode(w, r, &req) {
		return
	}
	l, err := s.leagues.Create(r.Context(), req.Name, req.Password, req.PlayerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, newLeagueView(l))
}

func (s *Server) handleJoinLeague(w http.ResponseWriter, r *http.Request) {
	var req leagueRequest
	if !decode(w, r, &req) {
		return
	}
	l, err := s.leagues.Join(r.Context(), req.Name, req.Password, req.PlayerID)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, newLeagueView(l))
}

func (s *Server) handleLeagueStandings(w http.ResponseWriter, r *http.Request) {
	table, err := s.leagues.Standings(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"standings": table})
}

func (s *Server) handleAdminGenerate(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		respondError(w, http.StatusServiceUnavailable, "no feed configured")
		return
	}
	ctx := r.Context()

	var req generateRequest
	if r.ContentLength > 0 && !decode(w, r, &req) {
		return
	}

	var (
		gw  *feed.Gameweek
		err error
	)
	if req.Round == 0 {
		current, rerr := s.engine.Round(ctx)
		switch {
		case rerr == nil:
			gw, err = s.source.FetchGameweek(ctx, current.Number+1)
		case errors.Is(rerr, game.ErrNoRound):
			gw, err = s.source.FetchCurrentGameweek(ctx, s.now())
		default:
			err = rerr
		}
	} else {
		gw, err = s.source.FetchGameweek(ctx, req.Round)
	}
	if err != nil {
		s.fail(w, err)
		return
	}
	table, skipped := s.pricer.Price(gw.Fixtures)
	for _, err := range skipped {
		s.logger.Warn("fixture excluded from cost table", zap.Int("round", gw.Round), zap.Error(err))
	}

	round, err := s.engine.Generate(ctx, gw.Round, table, gw.OpenTime, gw.CloseTime)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, round)
}

func (s *Server) handleAdminLock(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Lock(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

func (s *Server) handleAdminSettle(w http.ResponseWriter, r *http.Request) {
	if s.source == nil {
		respondError(w, http.StatusServiceUnavailable, "no feed configured")
		return
	}
	results, err := s.source.FetchResults(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	report, err := s.engine.Settle(r.Context(), results)
	if err != nil {
		s.fail(w, err)
		return
	}
	respondJSON(w, http.StatusOK, report)
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, game.ErrPlayerNotFound),
		errors.Is(err, game.ErrLeagueNotFound),
		errors.Is(err, game.ErrNoRound),
		errors.Is(err, feed.ErrNotPublished):
		return http.StatusNotFound

	case errors.Is(err, game.ErrInvalidPhase),
		errors.Is(err, game.ErrRoundNumber),
		errors.Is(err, game.ErrPlayerExists),
		errors.Is(err, game.ErrLeagueExists):
		return http.StatusConflict

	case errors.Is(err, game.ErrInsufficientFunds),
		errors.Is(err, game.ErrUnknownOutcome),
		errors.Is(err, game.ErrEmptyTable),
		errors.Is(err, game.ErrInvalidName),
		errors.Is(err, fixtures.ErrInvalidOutcome),
		errors.Is(err, bonus.ErrUnknownKind),
		errors.Is(err, bonus.ErrNoUsesRemaining),
		errors.Is(err, league.ErrInvalidName):
		return http.StatusBadRequest

	case errors.Is(err, league.ErrBadCredentials):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		respondError(w, status, "internal error")
		return
	}
	respondError(w, status, err.Error())
}

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
