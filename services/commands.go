package services

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/game"
	"github.com/slopgame/slop/logger"
	"github.com/slopgame/slop/models"
)

// FormTeam creates a team and returns its id.
func (s *GameService) FormTeam(ctx context.Context, gameID, playerID, name, color string) (string, error) {
	teamID := s.newID()
	_, err := s.command(ctx, "form_team", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.AddTeam(teamID, name, color)
	})
	if err != nil {
		return "", err
	}
	return teamID, nil
}

// JoinTeam moves the player onto a team.
func (s *GameService) JoinTeam(ctx context.Context, gameID, playerID, teamID string) error {
	_, err := s.command(ctx, "join_team", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.JoinTeam(playerID, teamID)
	})
	return err
}

// RemoveTeam disbands a team. Only the game's creator may do this.
func (s *GameService) RemoveTeam(ctx context.Context, gameID, playerID, teamID string) error {
	_, err := s.command(ctx, "remove_team", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if err := creator(agg, playerID); err != nil {
			return nil, err
		}
		return agg.RemoveTeam(teamID)
	})
	return err
}

// StartGame closes the lobby. Only the game's creator may do this.
func (s *GameService) StartGame(ctx context.Context, gameID, playerID string) error {
	_, err := s.command(ctx, "start_game", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if err := creator(agg, playerID); err != nil {
			return nil, err
		}
		return agg.StartGame()
	})
	return err
}

// AssignPersonality lets the player's team pick another team's personality.
func (s *GameService) AssignPersonality(ctx context.Context, gameID, playerID, teamID, personalityID string) error {
	_, err := s.command(ctx, "assign_personality", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		p, err := teamMember(agg, playerID)
		if err != nil {
			return nil, err
		}
		return agg.AssignPersonality(teamID, personalityID, p.TeamID)
	})
	return err
}

// StartRound opens the next round.
func (s *GameService) StartRound(ctx context.Context, gameID, playerID string) error {
	_, err := s.command(ctx, "start_round", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.StartRound()
	})
	return err
}

// SubmitPrompt records the acting team's prompt.
func (s *GameService) SubmitPrompt(ctx context.Context, gameID, playerID, prompt string) error {
	_, err := s.command(ctx, "submit_prompt", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.SubmitPrompt(playerID, prompt)
	})
	return err
}

// AssignRoles hands out the script's roles and starts the guess timer.
func (s *GameService) AssignRoles(ctx context.Context, gameID, playerID string) error {
	var roundID string
	var seconds int
	_, err := s.command(ctx, "assign_roles", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		evts, err := agg.AssignRoles()
		if err != nil {
			return nil, err
		}
		if r, ok := agg.ActiveRound(); ok {
			roundID = r.ID
		}
		seconds = agg.Settings().GuessTimerSeconds
		return evts, nil
	})
	if err == nil && roundID != "" {
		s.startGuessTimer(gameID, roundID, time.Duration(seconds)*time.Second)
	}
	return err
}

// SubmitGuess records a guess for the player's team.
func (s *GameService) SubmitGuess(ctx context.Context, gameID, playerID, guess string) error {
	_, err := s.command(ctx, "submit_guess", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		p, err := teamMember(agg, playerID)
		if err != nil {
			return nil, err
		}
		return agg.SubmitGuess(p.TeamID, guess)
	})
	return err
}

// AcceptGuess is the acting team's verdict that teamID guessed the prompt.
func (s *GameService) AcceptGuess(ctx context.Context, gameID, playerID, teamID string) error {
	_, err := s.command(ctx, "accept_guess", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if err := actingMember(agg, playerID); err != nil {
			return nil, err
		}
		return agg.AcceptGuess(teamID)
	})
	return err
}

// SubmitPersonalityGuess records the acting team's personality guess.
func (s *GameService) SubmitPersonalityGuess(ctx context.Context, gameID, playerID, personalityID string) error {
	_, err := s.command(ctx, "submit_personality_guess", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.SubmitPersonalityGuess(playerID, personalityID)
	})
	return err
}

// ScoreRound closes the active round.
func (s *GameService) ScoreRound(ctx context.Context, gameID, playerID string) error {
	_, err := s.command(ctx, "score_round", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.ScoreRound()
	})
	if err == nil {
		s.cancelGuessTimer(gameID)
	}
	return err
}

// AdvanceOrFinish starts the next round or completes the game.
func (s *GameService) AdvanceOrFinish(ctx context.Context, gameID, playerID string) error {
	evts, err := s.command(ctx, "advance", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		if _, err := member(agg, playerID); err != nil {
			return nil, err
		}
		return agg.AdvanceOrFinish()
	})
	for _, evt := range evts {
		if done, ok := evt.(events.GameCompleted); ok {
			winner, _ := done.Winner()
			logger.Log.Infow("game completed", "game_id", gameID, "winner_team_id", winner)
		}
	}
	return err
}

// RequestScript generates the active round's script. The provider call
// runs without the game lock; the round is validated again before the
// script is recorded.
func (s *GameService) RequestScript(ctx context.Context, gameID, playerID string) error {
	ctx, span := s.tracer.Start(ctx, "game.request_script", trace.WithAttributes(attribute.String("game.id", gameID)))
	defer span.End()

	var req game.ScriptRequest
	err := s.view(ctx, gameID, func(agg *game.Aggregate) error {
		if _, err := member(agg, playerID); err != nil {
			return err
		}
		var err error
		req, err = agg.PrepareScript()
		return err
	})
	if err != nil {
		return s.finish(span, "request_script", err)
	}
	if s.generator == nil {
		return s.finish(span, "request_script", game.Reject(game.CodeScriptGenerationFailed, "no script generator configured"))
	}

	genCtx, cancel := context.WithTimeout(ctx, s.opts.ScriptTimeout)
	started := time.Now()
	script, err := game.Generate(genCtx, s.generator, req)
	cancel()
	s.metrics.ObserveScriptGeneration(time.Since(started))
	if err != nil {
		logger.Log.Warnw("script generation failed", "game_id", gameID, "round", req.RoundNumber, "personality", req.Personality.ID, "error", err)
		return s.finish(span, "request_script", err)
	}

	_, err = s.run(ctx, gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		return agg.RecordScript(req, script)
	})
	return s.finish(span, "request_script", err)
}

func creator(agg *game.Aggregate, playerID string) error {
	p, err := member(agg, playerID)
	if err != nil {
		return err
	}
	if !p.IsCreator {
		return game.Reject(game.CodeUnauthorized, "only the game's creator can do that")
	}
	return nil
}

func teamMember(agg *game.Aggregate, playerID string) (models.Player, error) {
	p, err := member(agg, playerID)
	if err != nil {
		return models.Player{}, err
	}
	if !p.HasTeam() {
		return models.Player{}, game.Reject(game.CodeInvalidInput, "player %s has not joined a team", playerID)
	}
	return p, nil
}

func actingMember(agg *game.Aggregate, playerID string) error {
	p, err := member(agg, playerID)
	if err != nil {
		return err
	}
	r, ok := agg.ActiveRound()
	if !ok {
		return game.Reject(game.CodeInvalidTransition, "no round in progress")
	}
	if p.TeamID != r.ActingTeamID {
		return game.Reject(game.CodeNotActingTeam, "player %s is not on acting team %s", playerID, r.ActingTeamID)
	}
	return nil
}

// --- guess timer ---

func (s *GameService) startGuessTimer(gameID, roundID string, d time.Duration) {
	if s.timers == nil || d <= 0 {
		return
	}
	s.timerMutex.Lock()
	defer s.timerMutex.Unlock()
	if old, ok := s.guessTimers[gameID]; ok {
		s.timers.RemoveTimer(old)
	}
	s.guessTimers[gameID] = s.timers.AddTimer(d, 0, func() { s.expireRound(gameID, roundID) })
}

func (s *GameService) cancelGuessTimer(gameID string) {
	if s.timers == nil {
		return
	}
	s.timerMutex.Lock()
	defer s.timerMutex.Unlock()
	if id, ok := s.guessTimers[gameID]; ok {
		s.timers.RemoveTimer(id)
		delete(s.guessTimers, gameID)
	}
}

// expireRound scores the round when its guess time runs out, unless the
// round was already scored.
func (s *GameService) expireRound(gameID, roundID string) {
	s.timerMutex.Lock()
	delete(s.guessTimers, gameID)
	s.timerMutex.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := s.command(ctx, "guess_timeout", gameID, func(agg *game.Aggregate) ([]events.Event, error) {
		r, ok := agg.ActiveRound()
		if !ok || r.ID != roundID {
			return nil, nil
		}
		return agg.ScoreRound()
	})
	if err != nil {
		logger.Log.Warnw("guess timer could not score round", "game_id", gameID, "round_id", roundID, "error", err)
	}
}
