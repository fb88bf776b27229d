package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/AdamBeresnev/matchday/internal/feed"
	"github.com/AdamBeresnev/matchday/internal/httputil"
	"github.com/AdamBeresnev/matchday/internal/logger"
	"github.com/AdamBeresnev/matchday/internal/match"
	"github.com/AdamBeresnev/matchday/internal/middleware"
	"github.com/AdamBeresnev/matchday/internal/service"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/markbates/goth/gothic"
)

func newRouter(app *application) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(app.sessionManager.LoadAndSave)

	r.Get("/auth/{provider}", func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		r = r.WithContext(context.WithValue(r.Context(), "provider", provider))

		gothic.BeginAuthHandler(w, r)
	})

	r.Get("/auth/{provider}/callback", func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")
		r = r.WithContext(context.WithValue(r.Context(), "provider", provider))

		gothUser, err := gothic.CompleteUserAuth(w, r)
		if err != nil {
			httputil.BadRequest(w, "Authentication failure", err)
			return
		}

		user, err := app.users.FindOrCreateUserByProvider(r.Context(), gothUser)
		if err != nil {
			httputil.InternalServerError(w, "Failed to find or create user", err)
			return
		}

		if err := app.sessionManager.RenewToken(r.Context()); err != nil {
			httputil.InternalServerError(w, "Failed to renew session", err)
			return
		}
		app.sessionManager.Put(r.Context(), middleware.SessionUserKey, user.ID.String())
		http.Redirect(w, r, "/", http.StatusFound)
	})

	r.Post("/auth/guest", func(w http.ResponseWriter, r *http.Request) {
		if id, err := uuid.Parse(app.sessionManager.GetString(r.Context(), middleware.SessionUserKey)); err == nil {
			if user, err := app.stores.Users.GetUser(r.Context(), id); err == nil {
				httputil.WriteJSON(w, http.StatusOK, user)
				return
			}
		}

		user, err := app.users.CreateGuestUser(r.Context())
		if err != nil {
			httputil.InternalServerError(w, "Failed to login as guest", err)
			return
		}

		if err := app.sessionManager.RenewToken(r.Context()); err != nil {
			httputil.InternalServerError(w, "Failed to renew session", err)
			return
		}
		app.sessionManager.Put(r.Context(), middleware.SessionUserKey, user.ID.String())
		httputil.WriteJSON(w, http.StatusOK, user)
	})

	r.Post("/logout", func(w http.ResponseWriter, r *http.Request) {
		if err := app.sessionManager.Destroy(r.Context()); err != nil {
			httputil.InternalServerError(w, "Failed to end session", err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(app.sessionManager, app.stores.Users))

		r.Get("/me", app.handleMe)

		r.Get("/matches", app.handleListMatches)
		r.Post("/matches", app.handleCreateMatch)

		r.Route("/matches/{id}", func(r chi.Router) {
			r.Get("/", app.handleGetMatch)
			r.Get("/events", app.handleEvents)
			r.Put("/community", app.handleSetCommunity)

			r.Post("/voting", app.handleCallVoting)
			r.Delete("/voting", app.handleResetVoting)
			r.Post("/voting/close", app.handleCloseVoting)
			r.Get("/votes", app.handleVoteProgress)
			r.Post("/votes", app.handleCastVotes)

			r.Get("/players", app.handleGetRoster)
			r.Post("/players", app.handleAddPlayer)
			r.Delete("/players/{playerID}", app.handleRemovePlayer)
			r.Post("/admin", app.handleTransferAdmin)

			r.Get("/join-requests", app.handlePendingRequests)
			r.Post("/join-requests", app.handleRequestJoin)
			r.Get("/membership", app.handleMembership)

			r.Route("/teams", func(r chi.Router) {
				r.Post("/lock", app.handleToggleLock)
				r.Post("/randomize", app.handleRandomize)
				r.Post("/move", app.handleMove)
				r.Post("/rename", app.handleRename)
				r.Post("/confirm", app.handleConfirm)
				r.Post("/unconfirm", app.handleUnconfirm)
			})
		})

		r.Post("/join-requests/{id}/approve", app.handleApproveJoin)
		r.Post("/join-requests/{id}/reject", app.handleRejectJoin)
	})

	return r
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		httputil.BadRequest(w, "Invalid request body", err)
		return false
	}
	return true
}

func uuidParam(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("Invalid %s", name), err)
		return uuid.Nil, false
	}
	return id, true
}

func identity(r *http.Request) uuid.UUID {
	id, _ := middleware.GetUserIDFromContext(r.Context())
	return id
}

// actor resolves the match in the URL and the caller's capability over it.
func (app *application) actor(w http.ResponseWriter, r *http.Request) (match.Actor, bool) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return match.Actor{}, false
	}
	a, err := app.matches.ActorFor(r.Context(), matchID, identity(r))
	if err != nil {
		httputil.Error(w, r, err)
		return match.Actor{}, false
	}
	return a, true
}

func (app *application) handleMe(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetAuthenticatedUser(r.Context())
	if user == nil {
		httputil.Unauthorized(w)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, user)
}

func (app *application) handleListMatches(w http.ResponseWriter, r *http.Request) {
	matches, err := app.matches.GetMatchesForAdmin(r.Context(), identity(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, matches)
}

func (app *application) handleCreateMatch(w http.ResponseWriter, r *http.Request) {
	var req service.CreateMatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	m, err := app.matches.CreateMatch(r.Context(), identity(r), &req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, m)
}

func (app *application) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	data, err := app.matches.GetMatchData(r.Context(), matchID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, data)
}

func (app *application) handleSetCommunity(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Open bool `json:"open"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := app.matches.SetOpenToCommunity(r.Context(), a, a.MatchID, body.Open); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleCallVoting(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	if err := app.matches.CallVoting(r.Context(), a, a.MatchID); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleResetVoting(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	if err := app.matches.ResetVoting(r.Context(), a, a.MatchID); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleCloseVoting(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	result, err := app.voting.CloseVoting(r.Context(), a, a.MatchID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

func (app *application) handleVoteProgress(w http.ResponseWriter, r *http.Request) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	progress, err := app.voting.Progress(r.Context(), matchID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	voted, err := app.voting.HasVoted(r.Context(), matchID, identity(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		*service.VoteProgress
		HasVoted bool `json:"has_voted"`
	}{progress, voted})
}

func (app *application) handleCastVotes(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		Scores service.Ballot `json:"scores"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := app.voting.CastVotes(r.Context(), a, a.MatchID, body.Scores); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleGetRoster(w http.ResponseWriter, r *http.Request) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	players, err := app.matches.GetRoster(r.Context(), matchID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, players)
}

func (app *application) handleAddPlayer(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	var req service.AddPlayerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	p, err := app.admission.AddPlayer(r.Context(), a, a.MatchID, &req)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (app *application) handleRemovePlayer(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	playerID, ok := uuidParam(w, r, "playerID")
	if !ok {
		return
	}
	kick := false
	if v := r.URL.Query().Get("kick"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			httputil.BadRequest(w, "Invalid kick flag", err)
			return
		}
		kick = parsed
	}
	if err := app.admission.RemovePlayer(r.Context(), a, a.MatchID, playerID, kick); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handleTransferAdmin(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	var body struct {
		PlayerID uuid.UUID `json:"player_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	if err := app.admission.TransferAdmin(r.Context(), a, a.MatchID, body.PlayerID); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (app *application) handlePendingRequests(w http.ResponseWriter, r *http.Request) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	requests, err := app.admission.PendingRequests(r.Context(), a, a.MatchID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, requests)
}

func (app *application) handleRequestJoin(w http.ResponseWriter, r *http.Request) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	req, err := app.admission.RequestJoin(r.Context(), matchID, identity(r))
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusAccepted, req)
}

func (app *application) handleMembership(w http.ResponseWriter, r *http.Request) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	reconciler := service.NewReconciler(service.NewStoreMembershipSource(app.stores), app.reconcile)
	httputil.WriteJSON(w, http.StatusOK, reconciler.CheckMembership(r.Context(), matchID, identity(r)))
}

// joinRequestActor resolves the caller's capability over the match a join request targets.
func (app *application) joinRequestActor(w http.ResponseWriter, r *http.Request) (match.Actor, uuid.UUID, bool) {
	requestID, ok := uuidParam(w, r, "id")
	if !ok {
		return match.Actor{}, uuid.Nil, false
	}
	req, err := app.stores.JoinRequests.GetJoinRequest(r.Context(), requestID)
	if err != nil {
		httputil.Error(w, r, err)
		return match.Actor{}, uuid.Nil, false
	}
	a, err := app.matches.ActorFor(r.Context(), req.MatchID, identity(r))
	if err != nil {
		httputil.Error(w, r, err)
		return match.Actor{}, uuid.Nil, false
	}
	return a, requestID, true
}

func (app *application) handleApproveJoin(w http.ResponseWriter, r *http.Request) {
	a, requestID, ok := app.joinRequestActor(w, r)
	if !ok {
		return
	}
	p, err := app.admission.ApproveJoin(r.Context(), a, requestID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (app *application) handleRejectJoin(w http.ResponseWriter, r *http.Request) {
	a, requestID, ok := app.joinRequestActor(w, r)
	if !ok {
		return
	}
	if err := app.admission.RejectJoin(r.Context(), a, requestID); err != nil {
		httputil.Error(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// editTeams opens an editor on the current split, applies fn and responds with the resulting teams.
func (app *application) editTeams(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, e *service.TeamEditor) error) {
	a, ok := app.actor(w, r)
	if !ok {
		return
	}
	editor, err := service.OpenTeamEditor(r.Context(), app.db, app.stores, app.feed, a, a.MatchID)
	if err != nil {
		httputil.Error(w, r, err)
		return
	}
	if err := fn(r.Context(), editor); err != nil {
		httputil.Error(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, struct {
		State service.EditorState `json:"state"`
		Teams match.TeamPair      `json:"teams"`
	}{editor.State(), editor.Teams()})
}

func (app *application) handleToggleLock(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PlayerID uuid.UUID `json:"player_id"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	app.editTeams(w, r, func(ctx context.Context, e *service.TeamEditor) error {
		return e.ToggleLock(ctx, body.PlayerID)
	})
}

func (app *application) handleRandomize(w http.ResponseWriter, r *http.Request) {
	app.editTeams(w, r, func(ctx context.Context, e *service.TeamEditor) error {
		return e.Randomize(ctx)
	})
}

func (app *application) handleMove(w http.ResponseWriter, r *http.Request) {
	var req service.MoveRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	app.editTeams(w, r, func(ctx context.Context, e *service.TeamEditor) error {
		return e.Move(ctx, req)
	})
}

func (app *application) handleRename(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Team match.TeamID `json:"team"`
		Name string       `json:"name"`
	}
	if !decodeJSON(w, r, &body) {
		return
	}
	app.editTeams(w, r, func(ctx context.Context, e *service.TeamEditor) error {
		return e.Rename(ctx, body.Team, body.Name)
	})
}

func (app *application) handleConfirm(w http.ResponseWriter, r *http.Request) {
	app.editTeams(w, r, func(ctx context.Context, e *service.TeamEditor) error {
		_, err := e.Confirm(ctx)
		return err
	})
}

func (app *application) handleUnconfirm(w http.ResponseWriter, r *http.Request) {
	app.editTeams(w, r, func(ctx context.Context, e *service.TeamEditor) error {
		return e.Unconfirm(ctx)
	})
}

var streamedTables = []string{
	feed.TableMatches,
	feed.TablePlayers,
	feed.TableJoinRequests,
	feed.TableTeamPairs,
	feed.TableConfirmations,
}

// handleEvents streams every change to the match as server-sent events until the client goes away.
func (app *application) handleEvents(w http.ResponseWriter, r *http.Request) {
	matchID, ok := uuidParam(w, r, "id")
	if !ok {
		return
	}
	if _, err := app.matches.GetMatch(r.Context(), matchID); err != nil {
		httputil.Error(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "Streaming unsupported", fmt.Errorf("%T is not a flusher", w))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	events := make(chan feed.Event)
	for _, table := range streamedTables {
		sub, err := app.feed.Subscribe(ctx, matchID, table)
		if err != nil {
			httputil.Error(w, r, err)
			return
		}
		defer sub.Close()
		go func(sub *feed.Subscription) {
			for ev := range sub.Events {
				select {
				case events <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log := logger.WithContext(ctx).WithField("match_id", matchID)
	log.Debug("event stream opened")
	for {
		select {
		case <-ctx.Done():
			log.Debug("event stream closed")
			return
		case ev := <-events:
			payload, err := json.Marshal(ev)
			if err != nil {
				log.WithError(err).Warn("failed to encode event")
				continue
			}
			if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Table, payload); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
