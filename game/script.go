package game

import (
	"context"
	"errors"

	"github.com/slopgame/slop/events"
	"github.com/slopgame/slop/models"
)

// ScriptGenerator produces a script for a prompt. Implementations apply
// their own retry policy; callers only see the final outcome.
type ScriptGenerator interface {
	GenerateScript(ctx context.Context, prompt string, personality models.Personality, numRoles int, tone models.ContentTone) (*models.Script, error)
}

// ScriptRequest is everything a generator needs for one round, captured
// while the game is locked so the provider call can run without the lock.
type ScriptRequest struct {
	RoundID     string
	RoundNumber int
	Prompt      string
	Personality models.Personality
	NumRoles    int
	Tone        models.ContentTone
}

// PrepareScript validates that the active round is ready for a script and
// returns the generation request. It emits nothing.
func (a *Aggregate) PrepareScript() (ScriptRequest, error) {
	r, err := a.activeRound()
	if err != nil {
		return ScriptRequest{}, err
	}
	if !r.HasPrompt() {
		return ScriptRequest{}, Reject(CodeInvalidTransition, "round %d has no prompt yet", r.Number)
	}
	if r.HasScript() {
		return ScriptRequest{}, Reject(CodeAlreadySubmitted, "round %d already has a script", r.Number)
	}
	team, err := a.game.Team(r.ActingTeamID)
	if err != nil {
		return ScriptRequest{}, fromModel(err)
	}
	if !team.HasPersonality() {
		return ScriptRequest{}, Reject(CodeInvalidTransition, "team %s has no personality", team.ID)
	}
	personality, ok := a.catalog.Get(team.AssignedPersonality)
	if !ok {
		return ScriptRequest{}, Reject(CodeNotFound, "unknown personality %q", team.AssignedPersonality)
	}
	if team.Size() == 0 {
		return ScriptRequest{}, Reject(CodeInvalidTransition, "acting team %s has no players", team.ID)
	}
	return ScriptRequest{
		RoundID:     r.ID,
		RoundNumber: r.Number,
		Prompt:      r.Prompt,
		Personality: personality,
		NumRoles:    team.Size(),
		Tone:        a.game.Settings.ContentTone,
	}, nil
}

// RecordScript attaches a generated script to the round the request was
// prepared for. The round must still be open and without a script.
func (a *Aggregate) RecordScript(req ScriptRequest, script *models.Script) ([]events.Event, error) {
	r, err := a.activeRound()
	if err != nil {
		return nil, err
	}
	if r.ID != req.RoundID {
		return nil, Reject(CodeInvalidTransition, "round %d moved on while the script was generated", req.RoundNumber)
	}
	if r.HasScript() {
		return nil, Reject(CodeAlreadySubmitted, "round %d already has a script", r.Number)
	}
	if script == nil || len(script.Roles) == 0 {
		return nil, Wrap(CodeScriptGenerationFailed, models.ErrNoRoles, "generator returned no roles")
	}
	roles := make([]events.RolePayload, len(script.Roles))
	for i, role := range script.Roles {
		lines := role.Lines
		if lines == nil {
			lines = []string{}
		}
		roles[i] = events.RolePayload{Name: role.Name, Description: role.Description, Lines: lines}
	}
	personalityID := script.PersonalityID
	if personalityID == "" {
		personalityID = req.Personality.ID
	}
	return a.commit(events.ScriptGenerated{
		Meta:              a.meta(),
		RoundNumber:       r.Number,
		ScriptContent:     script.Content,
		PersonalityID:     personalityID,
		Roles:             roles,
		WordCount:         script.WordCount,
		EstimatedDuration: script.EstimatedDuration,
	})
}

// Generate runs the generator for a prepared request and maps its failure
// to a command error. It does not touch any aggregate.
func Generate(ctx context.Context, gen ScriptGenerator, req ScriptRequest) (*models.Script, error) {
	script, err := gen.GenerateScript(ctx, req.Prompt, req.Personality, req.NumRoles, req.Tone)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, Wrap(CodeScriptGenerationTimeout, err, "script generation timed out")
		}
		return nil, Wrap(CodeScriptGenerationFailed, err, "script generation failed")
	}
	return script, nil
}

// RequestScript prepares, generates and records in one call. It holds the
// aggregate for the whole provider call, so it suits tests and single-owner
// callers; concurrent callers use PrepareScript, Generate and RecordScript.
func (a *Aggregate) RequestScript(ctx context.Context, gen ScriptGenerator) ([]events.Event, error) {
	req, err := a.PrepareScript()
	if err != nil {
		return nil, err
	}
	script, err := Generate(ctx, gen, req)
	if err != nil {
		return nil, err
	}
	return a.RecordScript(req, script)
}
